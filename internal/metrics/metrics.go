package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are low-cardinality: camera names are bounded by the NVR
// config, everything else is a fixed enum.

var (
	// EventsTotal counts inbound detections by outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_total",
			Help: "Inbound person detections by processing outcome",
		},
		[]string{"camera", "outcome"},
	)

	// AnalysisTotal counts vision analysis attempts by path and result.
	AnalysisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_analysis_total",
			Help: "Vision analysis attempts by path and result",
		},
		[]string{"path", "result"},
	)

	// AnalysisLatency tracks end-to-end analysis time per event.
	AnalysisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_analysis_latency_seconds",
			Help:    "End-to-end vision analysis latency",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	// RiskTotal counts final decisions by risk level.
	RiskTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_risk_total",
			Help: "Final decisions by risk level",
		},
		[]string{"risk"},
	)

	// ActionsTotal counts executed response actions.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_actions_total",
			Help: "Executed response actions",
		},
		[]string{"action"},
	)

	// DeliveryTotal counts messenger alert sends.
	DeliveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_delivery_total",
			Help: "Messenger alert delivery attempts",
		},
		[]string{"result"},
	)

	// BrokerUp reports MQTT broker connectivity.
	BrokerUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_broker_up",
			Help: "MQTT broker connectivity (1=connected, 0=down)",
		},
	)
)

// Event outcomes.
const (
	OutcomeProcessed  = "processed"
	OutcomeCooldown   = "cooldown"
	OutcomeKnownFace  = "known_face"
	OutcomeNoSnapshot = "no_snapshot"
	OutcomeDropped    = "dropped"
)

func RecordEvent(camera, outcome string) {
	EventsTotal.WithLabelValues(camera, outcome).Inc()
}

func RecordAnalysis(path, result string) {
	AnalysisTotal.WithLabelValues(path, result).Inc()
}

func RecordRisk(risk string) {
	RiskTotal.WithLabelValues(risk).Inc()
}

func RecordAction(action string) {
	ActionsTotal.WithLabelValues(action).Inc()
}

func RecordDelivery(result string) {
	DeliveryTotal.WithLabelValues(result).Inc()
}

func SetBrokerUp(up bool) {
	if up {
		BrokerUp.Set(1)
	} else {
		BrokerUp.Set(0)
	}
}
