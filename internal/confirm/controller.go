package confirm

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/platform/paths"
	"github.com/technosupport/ts-sentinel/internal/policy"
	"github.com/technosupport/ts-sentinel/internal/vlm"
)

var confirmLineRe = regexp.MustCompile(`(?i)^confirm_json:\s*(.*)`)

// Verdict is the second-pass answer.
type Verdict struct {
	Confirmed bool   `json:"confirmed"`
	Risk      string `json:"risk"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
}

// ParseVerdict extracts the last CONFIRM_JSON line from the model text. The
// JSON may sit on the prefix line or on the following line. A matched line
// whose payload is malformed or lacks an explicit confirmed key yields no
// verdict: an ambiguous reply must never read as a rejection.
func ParseVerdict(text string) (Verdict, bool) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		m := confirmLineRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		jsonStr := strings.TrimSpace(m[1])
		if jsonStr == "" && i+1 < len(lines) {
			jsonStr = strings.TrimSpace(lines[i+1])
		}
		if jsonStr == "" {
			return Verdict{}, false
		}
		var wire struct {
			Confirmed *bool  `json:"confirmed"`
			Risk      string `json:"risk"`
			Action    string `json:"action"`
			Reason    string `json:"reason"`
		}
		if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil || wire.Confirmed == nil {
			return Verdict{}, false
		}
		return Verdict{
			Confirmed: *wire.Confirmed,
			Risk:      strings.ToLower(strings.TrimSpace(wire.Risk)),
			Action:    strings.ToLower(strings.TrimSpace(wire.Action)),
			Reason:    wire.Reason,
		}, true
	}
	return Verdict{}, false
}

// SnapshotFetcher re-fetches the event snapshot for the second look.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, eventID string) ([]byte, error)
}

// Confirmer runs the confirmation prompt against the vision model.
type Confirmer interface {
	Confirm(ctx context.Context, req vlm.Request, initial decision.Decision) (string, error)
}

// Controller runs the optional second-look pass on high-stakes decisions.
// Any failure keeps the initial decision: a broken confirm pass must never
// silence a real alert.
type Controller struct {
	store   *config.Store
	frigate SnapshotFetcher
	model   Confirmer
	stage   func(cfg *config.Config, eventID, suffix string, data []byte) (paths.StagedMedia, error)
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewController(store *config.Store, frigate SnapshotFetcher, model Confirmer) *Controller {
	return &Controller{
		store:   store,
		frigate: frigate,
		model:   model,
		stage:   paths.StageSnapshot,
		sleep:   ctxSleep,
	}
}

// Wanted reports whether this decision's risk is on the confirm list.
func Wanted(cfg *config.Config, risk string) bool {
	if !cfg.ConfirmEnabled {
		return false
	}
	risk = strings.ToLower(risk)
	for _, r := range cfg.ConfirmRisks {
		if r == risk {
			return true
		}
	}
	return false
}

// Run waits out the confirm delay, re-fetches the snapshot and asks the
// model to confirm its initial decision. Returns the (possibly adjusted)
// decision and a note for the published analysis text; the note is empty
// when no confirmation ran.
func (c *Controller) Run(ctx context.Context, camera, eventID string, initial decision.Decision, pol policy.Context, recentSummary string) (decision.Decision, string) {
	cfg := c.store.Current()
	if !Wanted(cfg, initial.Risk) {
		return initial, ""
	}

	log.Printf("Confirm: started for %s (risk=%s)", eventID, initial.Risk)
	if err := c.sleep(ctx, time.Duration(cfg.ConfirmDelaySeconds)*time.Second); err != nil {
		return initial, ""
	}

	snap, err := c.frigate.FetchSnapshot(ctx, eventID)
	if err != nil {
		log.Printf("[WARN] Confirm: skipped, no second snapshot for %s: %v", eventID, err)
		return initial, "Confirmation unavailable (no second snapshot); keeping initial decision."
	}
	staged, err := c.stage(cfg, eventID, "-confirm", snap)
	if err != nil {
		log.Printf("[WARN] Confirm: skipped, staging failed for %s: %v", eventID, err)
		return initial, "Confirmation unavailable (staging failed); keeping initial decision."
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConfirmTimeoutSeconds)*time.Second)
	defer cancel()

	text, err := c.model.Confirm(ctx, vlm.Request{
		Camera:        camera,
		EventID:       eventID,
		StagedAbsPath: staged.AbsPath,
		StagedRelPath: staged.RelPath,
		Policy:        pol,
		RecentSummary: recentSummary,
	}, initial)
	if err != nil {
		log.Printf("[WARN] Confirm: model pass failed for %s: %v — keeping initial decision", eventID, err)
		return initial, "Confirmation unavailable (invalid response); keeping initial decision."
	}

	verdict, ok := ParseVerdict(text)
	if !ok {
		log.Printf("[WARN] Confirm: no verdict line for %s — keeping initial decision", eventID)
		return initial, "Confirmation unavailable (invalid response); keeping initial decision."
	}
	return applyVerdict(initial, verdict, eventID)
}

// applyVerdict folds the verdict into the decision. A rejection downgrades
// high/critical to medium and strips physical escalations; a confirmation
// adopts the second pass's suggested risk and action.
func applyVerdict(initial decision.Decision, v Verdict, eventID string) (decision.Decision, string) {
	if !v.Confirmed {
		out := initial
		if out.Risk == decision.RiskHigh || out.Risk == decision.RiskCritical {
			out.Risk = decision.RiskMedium
		}
		switch out.Action {
		case decision.ActionAlarm, decision.ActionLight, decision.ActionSpeaker:
			out.Action = decision.ActionSaveClip
		}
		out.Reason = v.Reason
		if out.Reason == "" {
			out.Reason = "Unconfirmed on second pass — downgraded"
		}
		log.Printf("Confirm: rejected escalation for %s; downgraded decision", eventID)
		return out, "Second-pass confirmation: NOT confirmed. Decision downgraded (" + out.Action + ")."
	}

	out := initial
	if decision.ValidRisk(v.Risk) {
		out.Risk = v.Risk
	}
	if decision.ValidAction(v.Action) {
		out.Action = v.Action
	}
	if v.Reason != "" {
		out.Reason = v.Reason
	}
	log.Printf("Confirm: accepted for %s", eventID)
	return out, "Second-pass confirmation: confirmed."
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
