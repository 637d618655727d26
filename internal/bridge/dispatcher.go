package bridge

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/frigate"
	"github.com/technosupport/ts-sentinel/internal/history"
	"github.com/technosupport/ts-sentinel/internal/metrics"
	"github.com/technosupport/ts-sentinel/internal/platform/paths"
	"github.com/technosupport/ts-sentinel/internal/policy"
	"github.com/technosupport/ts-sentinel/internal/publish"
	"github.com/technosupport/ts-sentinel/internal/vlm"
)

// snapshotSettle is how long the NVR needs before the event snapshot is
// actually ready to download.
const snapshotSettle = 3 * time.Second

// Snapshotter fetches event snapshots from the NVR.
type Snapshotter interface {
	FetchSnapshot(ctx context.Context, eventID string) ([]byte, error)
}

// PolicyBuilder assembles the per-event policy context.
type PolicyBuilder interface {
	Build(ctx context.Context, camera string) policy.Context
}

// Analyzer runs the first vision pass.
type Analyzer interface {
	Analyze(ctx context.Context, req vlm.Request) (string, error)
}

// ConfirmRunner optionally runs the second-look pass.
type ConfirmRunner interface {
	Run(ctx context.Context, camera, eventID string, initial decision.Decision, pol policy.Context, recentSummary string) (decision.Decision, string)
}

// ActionRunner executes the physical response.
type ActionRunner interface {
	Execute(ctx context.Context, d decision.Decision, camera, ttsMsg, eventID string)
}

// AlertSender ships the messenger alert.
type AlertSender interface {
	Send(ctx context.Context, camera, eventID, analysisText string, d decision.Decision, pol policy.Context)
}

// AnalysisPublisher emits the structured payload to home automation.
type AnalysisPublisher interface {
	Analysis(camera, label, analysis, eventID, snapshotPath string, d decision.Decision, pol policy.Context)
}

// Dispatcher drives the event pipeline: filter, gate, snapshot, analyze,
// score, confirm, publish, act, deliver, remember. Events run on a bounded
// worker pool; overflow is dropped rather than queued, since a stale
// security alert is worse than none.
type Dispatcher struct {
	store     *config.Store
	gate      *CooldownGate
	nvr       Snapshotter
	policies  PolicyBuilder
	memory    *history.Store
	analyzer  Analyzer
	confirmer ConfirmRunner
	actions   ActionRunner
	alerts    AlertSender
	publisher AnalysisPublisher
	recent    *policy.RecentTracker
	onEvent   func()

	stage func(cfg *config.Config, eventID, suffix string, data []byte) (paths.StagedMedia, error)
	sleep func(ctx context.Context, d time.Duration) error

	sem      chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Deps bundles the dispatcher's collaborators.
type Deps struct {
	Store     *config.Store
	Gate      *CooldownGate
	NVR       Snapshotter
	Policies  PolicyBuilder
	Memory    *history.Store
	Analyzer  Analyzer
	Confirmer ConfirmRunner
	Actions   ActionRunner
	Alerts    AlertSender
	Publisher AnalysisPublisher
	Recent    *policy.RecentTracker
	// OnEvent is called after each fully processed event. Optional.
	OnEvent func()
	// MaxInflight bounds concurrent event pipelines. Defaults to 4.
	MaxInflight int
}

func NewDispatcher(d Deps) *Dispatcher {
	if d.MaxInflight <= 0 {
		d.MaxInflight = 4
	}
	return &Dispatcher{
		store:     d.Store,
		gate:      d.Gate,
		nvr:       d.NVR,
		policies:  d.Policies,
		memory:    d.Memory,
		analyzer:  d.Analyzer,
		confirmer: d.Confirmer,
		actions:   d.Actions,
		alerts:    d.Alerts,
		publisher: d.Publisher,
		recent:    d.Recent,
		onEvent:   d.OnEvent,
		stage:     paths.StageSnapshot,
		sleep:     ctxSleep,
		sem:       make(chan struct{}, d.MaxInflight),
		stopChan:  make(chan struct{}),
	}
}

// HandleMessage is the MQTT callback. It filters the message and hands
// accepted events to the worker pool without blocking the broker loop.
func (d *Dispatcher) HandleMessage(_ string, payload []byte) {
	evt, ok := frigate.ParseEvent(payload)
	if !ok {
		return
	}

	select {
	case <-d.stopChan:
		return
	default:
	}

	select {
	case d.sem <- struct{}{}:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			d.process(context.Background(), evt)
		}()
	default:
		log.Printf("[WARN] Dispatcher: pipeline full, dropping event %s (%s)", evt.EventID, evt.Camera)
		metrics.RecordEvent(evt.Camera, metrics.OutcomeDropped)
	}
}

// Stop waits for in-flight pipelines to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, evt *frigate.Event) {
	cfg := d.store.Current()
	log.Printf("Dispatcher: person detected on %s (event %s)", evt.Camera, evt.EventID)

	pol := policy.Unknown(cfg.DefaultZone)
	if cfg.PolicyEnabled {
		pol = d.policies.Build(ctx, evt.Camera)
		log.Printf("Dispatcher: policy context for %s: %+v", evt.Camera, pol)
	}

	historySummary := "- disabled"
	if cfg.MemoryEnabled {
		historySummary = d.memory.Summary(evt.Camera, time.Duration(cfg.HistoryWindowSeconds)*time.Second)
		log.Printf("Dispatcher: recent events for %s: %s", evt.Camera, strings.ReplaceAll(historySummary, "\n", " | "))
	}

	if cfg.ExcludeKnownFaces && pol.KnownFacesPresent {
		log.Printf("Dispatcher: skipping %s — known faces present and exclusion enabled", evt.EventID)
		metrics.RecordEvent(evt.Camera, metrics.OutcomeKnownFace)
		d.publisher.Analysis(evt.Camera, evt.Label,
			"Person detected on "+evt.Camera+" — ignored because known face was detected.",
			evt.EventID, "",
			decision.Decision{
				Risk: decision.RiskLow, Type: "known_person", Confidence: 0.95,
				Action: decision.ActionNotifyOnly, Reason: "known face excluded",
			}, pol)
		return
	}

	if d.gate.OnCooldown(evt.Camera, time.Duration(cfg.CooldownSeconds)*time.Second) {
		log.Printf("Dispatcher: skipping %s — cooldown active for %s", evt.EventID, evt.Camera)
		metrics.RecordEvent(evt.Camera, metrics.OutcomeCooldown)
		return
	}

	// Give the NVR a moment to persist the snapshot.
	if err := d.sleep(ctx, snapshotSettle); err != nil {
		return
	}

	snap, err := d.nvr.FetchSnapshot(ctx, evt.EventID)
	if err != nil {
		log.Printf("[WARN] Dispatcher: no snapshot for %s: %v", evt.EventID, err)
		metrics.RecordEvent(evt.Camera, metrics.OutcomeNoSnapshot)
		return
	}
	staged, err := d.stage(cfg, evt.EventID, "", snap)
	if err != nil {
		log.Printf("[ERROR] Dispatcher: staging failed for %s: %v", evt.EventID, err)
		metrics.RecordEvent(evt.Camera, metrics.OutcomeNoSnapshot)
		return
	}

	// Immediate pending notice so home automation shows something while the
	// model works.
	pendingText := "Person detected on " + evt.Camera + " — vision analysis pending."
	d.publisher.Analysis(evt.Camera, evt.Label, pendingText, evt.EventID, staged.ArchivePath,
		decision.Sanitize(decision.Parse(pendingText)), policy.Unknown("unknown"))

	started := time.Now()
	analysis, err := d.analyzer.Analyze(ctx, vlm.Request{
		Camera:        evt.Camera,
		EventID:       evt.EventID,
		Snapshot:      snap,
		StagedAbsPath: staged.AbsPath,
		StagedRelPath: staged.RelPath,
		Policy:        pol,
		RecentSummary: historySummary,
	})
	metrics.AnalysisLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		log.Printf("[ERROR] Dispatcher: analysis failed for %s: %v", evt.EventID, err)
		metrics.RecordAnalysis("pipeline", "error")
		return
	}
	metrics.RecordAnalysis("pipeline", "ok")

	dec := decision.Sanitize(decision.Parse(analysis))

	if cfg.PolicyEnabled {
		adjusted, changed := policy.Apply(dec, pol)
		if changed {
			log.Printf("Dispatcher: rule engine adjusted risk %s -> %s for %s", dec.Risk, adjusted.Risk, evt.EventID)
			dec = adjusted
		}
	}

	analysisText := decision.StripJSONBlock(analysis)

	dec, note := d.confirmer.Run(ctx, evt.Camera, evt.EventID, dec, pol, historySummary)
	dec = decision.Sanitize(dec)
	if note != "" {
		analysisText = strings.TrimSpace(analysisText + "\n\n" + note)
	}

	d.publisher.Analysis(evt.Camera, evt.Label, analysisText, evt.EventID, staged.ArchivePath, dec, pol)
	metrics.RecordRisk(dec.Risk)

	ttsMsg := publish.SpeakText(evt.Camera, dec, pol)
	d.actions.Execute(ctx, dec, evt.Camera, ttsMsg, evt.EventID)
	metrics.RecordAction(dec.Action)

	// Delivery after actions so a saved clip can ride along.
	d.alerts.Send(ctx, evt.Camera, evt.EventID, analysisText, dec, pol)

	if cfg.MemoryEnabled {
		if err := d.memory.Append(history.Row{
			Camera:     evt.Camera,
			EventID:    evt.EventID,
			Risk:       dec.Risk,
			Action:     dec.Action,
			Type:       dec.Type,
			Confidence: dec.Confidence,
		}); err != nil {
			log.Printf("[WARN] Dispatcher: history append failed for %s: %v", evt.EventID, err)
		}
	}
	d.recent.Record(evt.Camera, time.Now(), time.Duration(cfg.RecentEventsWindowSeconds)*time.Second)
	metrics.RecordEvent(evt.Camera, metrics.OutcomeProcessed)

	if d.onEvent != nil {
		d.onEvent()
	}
}

func ctxSleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
