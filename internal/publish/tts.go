package publish

import (
	"fmt"
	"strings"

	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/policy"
)

var severitySpeech = map[string]string{
	decision.RiskLow:      "low priority",
	decision.RiskMedium:   "medium priority. Please review.",
	decision.RiskHigh:     "high priority. Attention required.",
	decision.RiskCritical: "critical. Immediate attention required.",
}

// SpeakText builds the spoken security briefing for speaker announcements.
func SpeakText(camera string, d decision.Decision, pol policy.Context) string {
	risk := strings.ToLower(d.Risk)
	detType := strings.ReplaceAll(d.Type, "_", " ")
	if detType == "" {
		detType = "person"
	}
	action := strings.ReplaceAll(strings.ToLower(d.Action), "_", " ")
	zone := strings.ReplaceAll(pol.CameraZone, "-", " ")

	subjectDesc := d.Subject.Description
	if subjectDesc == "" {
		subjectDesc = detType
	}

	parts := []string{
		fmt.Sprintf("Security alert from %s.", camera),
		fmt.Sprintf("Severity: %s", severitySpeech[risk]),
		fmt.Sprintf("%s detected in %s area.", subjectDesc, zone),
	}

	if d.Behavior != "" {
		// Keep behavior short for speech.
		short := strings.TrimSpace(strings.SplitN(d.Behavior, ".", 2)[0])
		if short != "" && len(short) < 120 {
			parts = append(parts, short+".")
		}
	}
	if d.Reason != "" && len(d.Reason) < 100 {
		parts = append(parts, fmt.Sprintf("Risk assessment: %s.", d.Reason))
	}

	if risk == decision.RiskMedium || risk == decision.RiskHigh || risk == decision.RiskCritical {
		if strings.Contains(action, "clip") {
			parts = append(parts, "Clip has been saved.")
		}
		if strings.Contains(action, "light") {
			parts = append(parts, "Lights have been turned on.")
		}
		if strings.Contains(action, "alarm") {
			parts = append(parts, "Alarm has been activated.")
		}
	}

	return strings.Join(parts, " ")
}
