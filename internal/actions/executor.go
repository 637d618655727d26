package actions

import (
	"context"
	"log"
	"time"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/platform/paths"
)

// NVR covers the event API calls the executor needs for clip saving.
type NVR interface {
	RetainEvent(ctx context.Context, eventID string) error
	FetchClip(ctx context.Context, eventID string) ([]byte, error)
}

// Hub invokes home-automation services.
type Hub interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// InQuietHours reports whether the hour falls in the quiet window. The
// window may wrap midnight; start is inclusive, end exclusive.
func InQuietHours(hour, start, end int) bool {
	if start > end {
		return hour >= start || hour < end
	}
	return start <= hour && hour < end
}

// Executor turns a decision into physical responses: clip retention, zone
// lights, speaker announcements, the siren. Every sub-action failure
// degrades to notify-only, which has already gone out over MQTT.
type Executor struct {
	store *config.Store
	nvr   NVR
	hub   Hub
	nowFn func() time.Time
}

func NewExecutor(store *config.Store, nvr NVR, hub Hub) *Executor {
	return &Executor{store: store, nvr: nvr, hub: hub, nowFn: time.Now}
}

// Execute runs the decided action. Safety rules:
//   - low risk is always forced to notify_only
//   - unknown actions fall back to notify_only
//   - quiet hours suppress the speaker unless risk is critical
func (e *Executor) Execute(ctx context.Context, d decision.Decision, camera, ttsMsg, eventID string) {
	cfg := e.store.Current()

	action := d.Action
	if d.Risk == decision.RiskLow {
		action = decision.ActionNotifyOnly
	}
	if !decision.ValidAction(action) {
		log.Printf("[WARN] Actions: unknown action %q — forcing notify_only", action)
		action = decision.ActionNotifyOnly
	}

	log.Printf("Actions: executing %s (risk=%s, camera=%s)", action, d.Risk, camera)

	switch action {
	case decision.ActionNotifyOnly:
		return

	case decision.ActionSaveClip:
		if !e.saveClip(ctx, cfg, eventID) {
			log.Printf("[ERROR] Actions: clip save failed for %s — fallback to notify_only", camera)
		}

	case decision.ActionLight:
		// High risk always gets the clip too.
		e.saveClip(ctx, cfg, eventID)
		if !e.lightsOn(ctx, cfg, camera) {
			log.Printf("[ERROR] Actions: lights failed for %s — fallback to notify_only", camera)
		}

	case decision.ActionSpeaker:
		if e.quiet(cfg) && d.Risk != decision.RiskCritical {
			log.Printf("Actions: suppressing speaker during quiet hours (risk=%s)", d.Risk)
			return
		}
		if !e.announce(ctx, cfg, ttsMsg) {
			log.Printf("[ERROR] Actions: speaker announce failed — fallback to notify_only")
		}

	case decision.ActionAlarm:
		// Highest escalation: lights on, siren on, announce unless quiet.
		e.saveClip(ctx, cfg, eventID)
		e.lightsOn(ctx, cfg, camera)
		if err := e.hub.CallService(ctx, "switch", "turn_on", map[string]any{
			"entity_id": cfg.AlarmEntity,
		}); err != nil {
			log.Printf("[ERROR] Actions: alarm activation failed: %v — fallback to notify_only", err)
		}
		if !e.quiet(cfg) || d.Risk == decision.RiskCritical {
			e.announce(ctx, cfg, ttsMsg)
		}
	}
}

func (e *Executor) quiet(cfg *config.Config) bool {
	return InQuietHours(e.nowFn().Hour(), cfg.QuietHoursStart, cfg.QuietHoursEnd)
}

// saveClip marks the event retained and archives the clip locally.
func (e *Executor) saveClip(ctx context.Context, cfg *config.Config, eventID string) bool {
	if eventID == "" {
		return false
	}
	if err := e.nvr.RetainEvent(ctx, eventID); err != nil {
		log.Printf("[WARN] Actions: retain failed for %s: %v", eventID, err)
	}
	data, err := e.nvr.FetchClip(ctx, eventID)
	if err != nil {
		log.Printf("[WARN] Actions: clip download failed for %s: %v", eventID, err)
		return false
	}
	path, _, err := paths.SaveClip(cfg, eventID, data)
	if err != nil {
		log.Printf("[WARN] Actions: clip write failed for %s: %v", eventID, err)
		return false
	}
	log.Printf("Actions: saved clip %s (%d bytes)", path, len(data))
	return true
}

func (e *Executor) lightsOn(ctx context.Context, cfg *config.Config, camera string) bool {
	ok := true
	for _, entity := range cfg.LightsFor(camera) {
		if err := e.hub.CallService(ctx, "light", "turn_on", map[string]any{
			"entity_id":      entity,
			"brightness_pct": 100,
		}); err != nil {
			log.Printf("[WARN] Actions: light %s failed: %v", entity, err)
			ok = false
		}
	}
	return ok
}

func (e *Executor) announce(ctx context.Context, cfg *config.Config, ttsMsg string) bool {
	if len(cfg.SpeakerTargets) == 0 {
		return false
	}
	err := e.hub.CallService(ctx, "notify", "alexa_media", map[string]any{
		"message": ttsMsg,
		"target":  cfg.SpeakerTargets,
		"data":    map[string]any{"type": "announce"},
	})
	if err != nil {
		log.Printf("[WARN] Actions: announce failed: %v", err)
		return false
	}
	return true
}
