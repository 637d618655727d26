package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/technosupport/ts-sentinel/internal/actions"
	"github.com/technosupport/ts-sentinel/internal/bridge"
	"github.com/technosupport/ts-sentinel/internal/bus"
	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/confirm"
	"github.com/technosupport/ts-sentinel/internal/delivery"
	"github.com/technosupport/ts-sentinel/internal/diag"
	"github.com/technosupport/ts-sentinel/internal/frigate"
	"github.com/technosupport/ts-sentinel/internal/history"
	"github.com/technosupport/ts-sentinel/internal/homeassistant"
	"github.com/technosupport/ts-sentinel/internal/metrics"
	"github.com/technosupport/ts-sentinel/internal/mqttbus"
	"github.com/technosupport/ts-sentinel/internal/platform/paths"
	"github.com/technosupport/ts-sentinel/internal/policy"
	"github.com/technosupport/ts-sentinel/internal/publish"
	"github.com/technosupport/ts-sentinel/internal/vlm"
)

func main() {
	configPath := flag.String("config", "", "bootstrap YAML config path")
	maxInflight := flag.Int("max-inflight", 4, "max concurrent event pipelines")
	flag.Parse()

	log.Printf("Sentinel: NVR -> VLM -> home automation bridge starting")

	// 1. Configuration: defaults, bootstrap YAML, runtime JSON, secrets.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ERROR] Sentinel: config load failed: %v", err)
	}
	store := config.NewStore(cfg)

	if err := paths.EnsureDirs(cfg); err != nil {
		log.Fatalf("[ERROR] Sentinel: storage setup failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Hot reload of the runtime config file.
	config.NewWatcher(store, *configPath).Start(ctx)

	// 3. Collaborators.
	nvr := frigate.NewClient(cfg.FrigateAPI)
	hub := homeassistant.NewClient(cfg.HAURL, cfg.HAToken)
	recent := policy.NewRecentTracker()
	policies := policy.NewBuilder(store, hub, recent)
	memory := history.NewStore(cfg.HistoryFile, cfg.HistoryMaxLines)
	analyzer := vlm.NewClient(store)
	confirmer := confirm.NewController(store, nvr, analyzer)
	executor := actions.NewExecutor(store, nvr, hub)
	alerts := delivery.NewClient(store)

	// 4. Buses. The NATS mirror is optional; MQTT is not.
	var mirror publish.Mirror
	if cfg.NATSEnabled {
		m, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			log.Printf("[WARN] Sentinel: NATS mirror unavailable: %v — continuing without it", err)
		} else {
			defer m.Close()
			mirror = m
		}
	}

	broker := mqttbus.New(mqttbus.Options{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		Username: cfg.MQTTUser,
		Password: cfg.MQTTPass,
	})
	if err := broker.Connect(); err != nil {
		log.Fatalf("[ERROR] Sentinel: MQTT connect failed: %v", err)
	}
	defer broker.Close()
	metrics.SetBrokerUp(true)

	publisher := publish.NewPublisher(store, broker, mirror)

	// 5. Diagnostics.
	diagSrv := diag.NewServer(store)
	diagSrv.Start(ctx)

	// 6. Pipeline.
	dispatcher := bridge.NewDispatcher(bridge.Deps{
		Store:       store,
		Gate:        bridge.NewCooldownGate(256),
		NVR:         nvr,
		Policies:    policies,
		Memory:      memory,
		Analyzer:    analyzer,
		Confirmer:   confirmer,
		Actions:     executor,
		Alerts:      alerts,
		Publisher:   publisher,
		Recent:      recent,
		OnEvent:     diagSrv.MarkEvent,
		MaxInflight: *maxInflight,
	})

	if err := broker.Subscribe(cfg.MQTTTopicSubscribe, 0, dispatcher.HandleMessage); err != nil {
		log.Fatalf("[ERROR] Sentinel: subscribe failed: %v", err)
	}
	log.Printf("Sentinel: watching %s, publishing to %s", cfg.MQTTTopicSubscribe, cfg.MQTTTopicPublish)

	// 7. Run until signalled.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("Sentinel: shutting down")
	cancel()
	dispatcher.Stop()
	metrics.SetBrokerUp(false)
}
