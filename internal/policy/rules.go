package policy

import (
	"strings"

	"github.com/technosupport/ts-sentinel/internal/decision"
)

var strongBehaviorWords = []string{
	"suspicious", "lurking", "trying", "forcing", "climbing", "breaking", "running",
}

var mildBehaviorWords = []string{
	"reaching", "looking around", "crouching", "hiding",
}

var sensitiveZones = []string{"terrace", "garage", "entry", "door"}

// ScoreSeverity applies the deterministic rule table to an AI decision and
// its policy context and returns the rule verdict.
func ScoreSeverity(d decision.Decision, p Context) string {
	score := 0

	aiType := strings.ToLower(d.Type)
	behavior := strings.ToLower(d.Behavior)
	zone := strings.ToLower(p.CameraZone)
	homeMode := strings.ToLower(p.HomeMode)

	if strings.Contains(aiType, "unknown") || aiType == "other" {
		score += 2
	}
	if p.TimeOfDay == "evening" || p.TimeOfDay == "night" {
		score += 2
	}
	for _, z := range sensitiveZones {
		if strings.Contains(zone, z) {
			score++
			break
		}
	}
	switch homeMode {
	case "away":
		score += 3
	case "sleep":
		score += 2
	}
	if containsAny(behavior, strongBehaviorWords) {
		score += 3
	} else if containsAny(behavior, mildBehaviorWords) {
		score += 2
	}
	if strings.Contains(aiType, "loitering") {
		score += 2
	}
	if p.KnownFacesPresent || strings.Contains(aiType, "known") {
		score -= 3
	}
	if strings.Contains(aiType, "delivery") {
		score--
	}
	if p.RecentEventsCount >= 3 {
		score++
	}

	switch {
	case score <= 2:
		return decision.RiskLow
	case score <= 4:
		return decision.RiskMedium
	case score <= 6:
		return decision.RiskHigh
	default:
		return decision.RiskCritical
	}
}

// Apply runs the rule engine over a decision. When the rule verdict differs
// from the AI's risk, it overrides and the action is remapped.
func Apply(d decision.Decision, p Context) (decision.Decision, bool) {
	ruleRisk := ScoreSeverity(d, p)
	if ruleRisk == strings.ToLower(d.Risk) {
		return d, false
	}
	out := d
	out.Risk = ruleRisk
	out.Action = decision.DefaultActionFor(ruleRisk)
	return out, true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Media is the attachment decision for one risk level.
type Media struct {
	Snapshot   bool `json:"snapshot"`
	Clip       bool `json:"clip"`
	ClipLength int  `json:"clip_length"`
	Monitoring bool `json:"monitoring"`
}

// DecideMedia maps a risk level to what media should accompany the alert.
func DecideMedia(risk string) Media {
	switch risk {
	case decision.RiskMedium:
		return Media{Snapshot: true, Clip: true, ClipLength: 15}
	case decision.RiskHigh:
		return Media{Snapshot: true, Clip: true, ClipLength: 30, Monitoring: true}
	case decision.RiskCritical:
		return Media{Snapshot: true, Clip: true, ClipLength: 60, Monitoring: true}
	default:
		return Media{Snapshot: true}
	}
}
