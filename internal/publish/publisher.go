package publish

import (
	"encoding/json"
	"log"
	"time"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/policy"
)

// Bus sends one message to the MQTT broker.
type Bus interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Mirror optionally copies analysis payloads to a second bus for downstream
// consumers that do not speak MQTT.
type Mirror interface {
	Publish(subject string, data []byte) error
}

// Publisher emits analysis payloads. QoS 1 retained so home automation sees
// the latest verdict even after a restart.
type Publisher struct {
	store  *config.Store
	bus    Bus
	mirror Mirror
	nowFn  func() time.Time
}

func NewPublisher(store *config.Store, bus Bus, mirror Mirror) *Publisher {
	return &Publisher{store: store, bus: bus, mirror: mirror, nowFn: time.Now}
}

// Analysis publishes the structured payload for one event. Used both for the
// immediate pending notice and the final verdict.
func (p *Publisher) Analysis(camera, label, analysis, eventID, snapshotPath string, d decision.Decision, pol policy.Context) {
	cfg := p.store.Current()
	payload := BuildPayload(cfg, camera, label, analysis, eventID, snapshotPath, d, pol, p.nowFn())

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[ERROR] Publish: marshal failed for event %s: %v", eventID, err)
		return
	}

	if err := p.bus.Publish(cfg.MQTTTopicPublish, 1, true, data); err != nil {
		log.Printf("[ERROR] Publish: MQTT publish to %s failed: %v", cfg.MQTTTopicPublish, err)
	} else {
		log.Printf("Publish: analysis for event %s sent to %s (risk=%s)", eventID, cfg.MQTTTopicPublish, payload.Risk)
	}

	if p.mirror != nil && cfg.NATSEnabled {
		if err := p.mirror.Publish(cfg.NATSSubject, data); err != nil {
			log.Printf("[WARN] Publish: mirror publish failed: %v", err)
		}
	}
}
