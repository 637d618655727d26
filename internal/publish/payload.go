package publish

import (
	"fmt"
	"strings"
	"time"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/policy"
)

// Payload is the structured analysis message home automation consumes.
type Payload struct {
	Camera             string  `json:"camera"`
	Label              string  `json:"label"`
	Analysis           string  `json:"analysis"`
	Risk               string  `json:"risk"`
	Type               string  `json:"type"`
	Confidence         float64 `json:"confidence"`
	Action             string  `json:"action"`
	Reason             string  `json:"reason"`
	Behavior           string  `json:"behavior"`
	SubjectIdentity    string  `json:"subject_identity"`
	SubjectDescription string  `json:"subject_description"`
	CameraZone         string  `json:"camera_zone"`
	HomeMode           string  `json:"home_mode"`
	TimeOfDay          string  `json:"time_of_day"`
	MediaSnapshot      bool    `json:"media_snapshot"`
	MediaClip          bool    `json:"media_clip"`
	MediaClipLength    int     `json:"media_clip_length"`
	MediaMonitoring    bool    `json:"media_monitoring"`
	TTS                string  `json:"tts"`
	Timestamp          string  `json:"timestamp"`
	EventID            string  `json:"event_id"`
	SnapshotPath       string  `json:"snapshot_path"`
	ClipURL            string  `json:"clip_url"`
}

var severityEmoji = map[string]string{
	decision.RiskLow:      "\U0001f7e2",
	decision.RiskMedium:   "\U0001f7e1",
	decision.RiskHigh:     "\U0001f7e0",
	decision.RiskCritical: "\U0001f534",
}

// BuildPayload assembles the full analysis payload from a sanitized decision.
func BuildPayload(cfg *config.Config, camera, label, analysis, eventID, snapshotPath string, d decision.Decision, pol policy.Context, now time.Time) Payload {
	risk := strings.ToLower(d.Risk)
	detType := titleCase(strings.ReplaceAll(d.Type, "_", " "))
	zone := titleCase(strings.ReplaceAll(pol.CameraZone, "-", " "))
	homeMode := titleCase(pol.HomeMode)
	timeOfDay := titleCase(pol.TimeOfDay)

	identity := titleCase(d.Subject.Identity)
	if identity == "" {
		identity = "Unknown"
	}
	subjectDesc := d.Subject.Description
	if subjectDesc == "" {
		subjectDesc = detType
	}

	cleanAnalysis := decision.CleanAnalysis(decision.StripJSONBlock(analysis))

	var b strings.Builder
	fmt.Fprintf(&b, "%s Risk: %s\n", severityEmoji[risk], strings.ToUpper(risk))
	fmt.Fprintf(&b, "Time: %s\n\n", now.Format("15:04:05"))
	fmt.Fprintf(&b, "Subject: %s — %s\n\n", identity, subjectDesc)
	if d.Behavior != "" {
		fmt.Fprintf(&b, "Behavior: %s\n\n", d.Behavior)
	}
	if cleanAnalysis != "" {
		fmt.Fprintf(&b, "Security Assessment:\n%s\n\n", cleanAnalysis)
	}
	fmt.Fprintf(&b, "Confidence: %.2f\n", d.Confidence)
	fmt.Fprintf(&b, "Reason: %s\n\n", d.Reason)
	fmt.Fprintf(&b, "Context: %s | %s | %s\n", zone, homeMode, timeOfDay)
	fmt.Fprintf(&b, "Action: %s", titleCase(strings.ReplaceAll(d.Action, "_", " ")))

	media := policy.DecideMedia(risk)
	clipURL := ""
	if media.Clip {
		clipURL = fmt.Sprintf("%s/api/events/%s/clip.mp4", strings.TrimRight(cfg.FrigateAPI, "/"), eventID)
	}

	return Payload{
		Camera:             camera,
		Label:              label,
		Analysis:           b.String(),
		Risk:               risk,
		Type:               d.Type,
		Confidence:         d.Confidence,
		Action:             d.Action,
		Reason:             d.Reason,
		Behavior:           d.Behavior,
		SubjectIdentity:    identity,
		SubjectDescription: subjectDesc,
		CameraZone:         zone,
		HomeMode:           homeMode,
		TimeOfDay:          timeOfDay,
		MediaSnapshot:      media.Snapshot,
		MediaClip:          media.Clip,
		MediaClipLength:    media.ClipLength,
		MediaMonitoring:    media.Monitoring,
		TTS:                SpeakText(camera, d, pol),
		Timestamp:          now.UTC().Format(time.RFC3339),
		EventID:            eventID,
		SnapshotPath:       snapshotPath,
		ClipURL:            clipURL,
	}
}

// titleCase uppercases the first letter of each space-separated word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
