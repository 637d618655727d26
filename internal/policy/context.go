package policy

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/technosupport/ts-sentinel/internal/config"
)

// Context is the per-event policy input for the rule engine and prompts.
type Context struct {
	TimeOfDay          string `json:"time_of_day"`
	HomeMode           string `json:"home_mode"`
	KnownFacesPresent  bool   `json:"known_faces_present"`
	CameraContext      string `json:"camera_context"`
	CameraZone         string `json:"camera_zone"`
	RecentEventsCount  int    `json:"recent_events_count"`
	RecentEventsLastTS string `json:"recent_events_last_ts"`
}

// Unknown returns the context used when policy building is disabled.
func Unknown(defaultZone string) Context {
	return Context{
		TimeOfDay:          "unknown",
		HomeMode:           "unknown",
		CameraContext:      "unspecified",
		CameraZone:         defaultZone,
		RecentEventsLastTS: "none",
	}
}

// StateReader reads one entity state from the home-automation hub.
type StateReader interface {
	GetState(ctx context.Context, entityID string) (string, error)
}

// RecentTracker keeps per-camera event epochs inside the policy window.
// Process-local; guarded for concurrent event workers.
type RecentTracker struct {
	mu     sync.Mutex
	epochs map[string][]time.Time
}

func NewRecentTracker() *RecentTracker {
	return &RecentTracker{epochs: make(map[string][]time.Time)}
}

// Record notes one accepted event for the camera and prunes stale entries.
func (r *RecentTracker) Record(camera string, now time.Time, window time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := pruneEpochs(append(r.epochs[camera], now), now, window)
	r.epochs[camera] = kept
}

// Snapshot returns the in-window count and the most recent timestamp.
func (r *RecentTracker) Snapshot(camera string, now time.Time, window time.Duration) (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := pruneEpochs(r.epochs[camera], now, window)
	r.epochs[camera] = kept
	if len(kept) == 0 {
		return 0, "none"
	}
	latest := kept[0]
	for _, ts := range kept[1:] {
		if ts.After(latest) {
			latest = ts
		}
	}
	return len(kept), latest.UTC().Format(time.RFC3339)
}

func pruneEpochs(epochs []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := epochs[:0]
	for _, ts := range epochs {
		if now.Sub(ts) <= window {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Builder assembles the policy context from the hub and local state.
type Builder struct {
	store  *config.Store
	ha     StateReader
	recent *RecentTracker
	nowFn  func() time.Time
}

func NewBuilder(store *config.Store, ha StateReader, recent *RecentTracker) *Builder {
	return &Builder{store: store, ha: ha, recent: recent, nowFn: time.Now}
}

// Build queries the hub for home mode and face presence, with safe defaults
// when the hub is unreachable, and folds in camera config and recent events.
func (b *Builder) Build(ctx context.Context, camera string) Context {
	cfg := b.store.Current()
	now := b.nowFn()

	homeMode := "home"
	if state, err := b.ha.GetState(ctx, cfg.HomeModeEntity); err == nil && state != "" {
		homeMode = strings.ToLower(state)
	} else if err != nil {
		log.Printf("[WARN] Policy: home mode read failed: %v", err)
	}

	facesState := "off"
	if state, err := b.ha.GetState(ctx, cfg.KnownFacesEntity); err == nil && state != "" {
		facesState = strings.ToLower(state)
	} else if err != nil {
		log.Printf("[WARN] Policy: known faces read failed: %v", err)
	}
	knownFaces := facesState == "on" || facesState == "true" || facesState == "home" || facesState == "detected"

	window := time.Duration(cfg.RecentEventsWindowSeconds) * time.Second
	count, lastTS := b.recent.Snapshot(camera, now, window)

	return Context{
		TimeOfDay:          TimeBucket(now.Hour()),
		HomeMode:           homeMode,
		KnownFacesPresent:  knownFaces,
		CameraContext:      cfg.ContextNoteFor(camera),
		CameraZone:         cfg.ZoneFor(camera),
		RecentEventsCount:  count,
		RecentEventsLastTS: lastTS,
	}
}

// TimeBucket maps a local hour to day (6-17), evening (18-22) or night.
func TimeBucket(hour int) string {
	switch {
	case hour >= 6 && hour < 18:
		return "day"
	case hour >= 18 && hour < 23:
		return "evening"
	default:
		return "night"
	}
}
