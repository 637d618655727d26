package diag

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-sentinel/internal/config"
)

// Server exposes the diagnostics endpoint: health, metrics and a redacted
// view of the live config.
type Server struct {
	store     *config.Store
	started   time.Time
	lastEvent atomic.Int64 // unix seconds, 0 = never
	httpSrv   *http.Server
}

func NewServer(store *config.Store) *Server {
	return &Server{store: store, started: time.Now()}
}

// MarkEvent records that an event was just processed.
func (s *Server) MarkEvent() {
	s.lastEvent.Store(time.Now().Unix())
}

// Start serves diagnostics until the context ends.
func (s *Server) Start(ctx context.Context) {
	cfg := s.store.Current()
	if cfg.DiagListenAddr == "" {
		return
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/configz", s.handleConfig)
	r.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:              cfg.DiagListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutCtx)
	}()

	go func() {
		log.Printf("Diag: listening on %s", cfg.DiagListenAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[ERROR] Diag: server failed: %v", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	lastEvent := ""
	if ts := s.lastEvent.Load(); ts > 0 {
		lastEvent = time.Unix(ts, 0).UTC().Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"last_event":     lastEvent,
	})
}

// handleConfig exposes the live runtime config with secrets masked, for
// checking what the watcher actually picked up.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.store.Current()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"mqtt_host":            cfg.MQTTHost,
		"mqtt_topic_subscribe": cfg.MQTTTopicSubscribe,
		"mqtt_topic_publish":   cfg.MQTTTopicPublish,
		"frigate_api":          cfg.FrigateAPI,
		"ollama_model":         cfg.OllamaModel,
		"analysis_model":       cfg.AnalysisModel,
		"cooldown_seconds":     cfg.CooldownSeconds,
		"delivery_enabled":     cfg.DeliveryEnabled,
		"delivery_min_risk":    cfg.DeliveryMinRisk,
		"policy_enabled":       cfg.PolicyEnabled,
		"memory_enabled":       cfg.MemoryEnabled,
		"confirm_enabled":      cfg.ConfirmEnabled,
		"confirm_risks":        cfg.ConfirmRisks,
		"quiet_hours_start":    cfg.QuietHoursStart,
		"quiet_hours_end":      cfg.QuietHoursEnd,
		"recipients_count":     len(cfg.Recipients),
		"mqtt_pass_set":        cfg.MQTTPass != "",
		"agent_token_set":      cfg.AgentToken != "",
		"ha_token_set":         cfg.HAToken != "",
	})
}
