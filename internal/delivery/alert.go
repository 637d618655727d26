package delivery

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/policy"
)

var severityIcon = map[string]string{
	"LOW":      "\U0001f7e2",
	"MEDIUM":   "\U0001f7e1",
	"HIGH":     "\U0001f7e0",
	"CRITICAL": "\U0001f534",
}

// FormatAlert renders the structured messenger alert for one event.
func FormatAlert(cfg *config.Config, camera, eventID, analysisText string, d decision.Decision, pol policy.Context, now time.Time) string {
	riskLevel := strings.ToUpper(d.Risk)
	riskIcon, ok := severityIcon[riskLevel]
	if !ok {
		riskIcon = "❓"
	}

	identity := titleWords(d.Subject.Identity)
	if identity == "" {
		if strings.Contains(d.Type, "known") && !strings.Contains(d.Type, "unknown") {
			identity = "Known"
		} else {
			identity = "Unknown"
		}
	}
	subjectDesc := d.Subject.Description
	if subjectDesc == "" {
		subjectDesc = titleWords(strings.ReplaceAll(d.Type, "_", " "))
	}

	behavior := behaviorText(d, analysisText)

	confDisplay := fmt.Sprintf("%.2f", d.Confidence)

	zone := titleWords(strings.ReplaceAll(pol.CameraZone, "-", " "))
	homeMode := strings.ToLower(pol.HomeMode)
	knownFaces := "No"
	if pol.KnownFacesPresent {
		knownFaces = "Yes"
	}

	var buildingStatus, expected string
	switch homeMode {
	case "away":
		buildingStatus, expected = "Unoccupied", "None"
	case "sleep":
		buildingStatus, expected = "Occupied (sleeping)", "None"
	case "guest":
		buildingStatus, expected = "Occupied (guests)", "Possible visitor movement"
	default:
		buildingStatus, expected = "Occupied", "Normal household activity"
	}

	actionText := map[string]string{
		decision.ActionNotifyOnly: "\U0001f514 Owner notified",
		decision.ActionSaveClip:   "\U0001f514 Owner notified\n\U0001f4be Clip saved",
		decision.ActionLight:      "\U0001f514 Owner notified\n\U0001f4be Clip saved\n\U0001f4a1 Lights activated",
		decision.ActionSpeaker:    "\U0001f514 Owner notified\n\U0001f4be Clip saved\n\U0001f50a Alexa announcement",
		decision.ActionAlarm:      "\U0001f6a8 ALARM ACTIVATED\n\U0001f4a1 All lights ON\n\U0001f50a Speakers active\n\U0001f4be Clip saved",
	}[d.Action]
	if actionText == "" {
		actionText = titleWords(strings.ReplaceAll(d.Action, "_", " "))
	}

	media := policy.DecideMedia(strings.ToLower(d.Risk))
	snapLine := "✅ Snapshot attached"
	clipLine := "❌ No clip needed"
	if media.Clip {
		if clipExists(cfg, eventID) {
			clipLine = fmt.Sprintf("✅ %ds clip attached", media.ClipLength)
		} else {
			clipLine = fmt.Sprintf("\U0001f4be %ds clip saving...", media.ClipLength)
		}
	}

	recentLine := ""
	if pol.RecentEventsCount > 0 {
		recentLine = fmt.Sprintf("\nRecent: %d events in last 10 min", pol.RecentEventsCount)
	}

	eventShort := eventID
	if len(eventShort) > 35 {
		eventShort = eventShort[:35]
	}

	msg := fmt.Sprintf(
		"\U0001f6a8 *AI SECURITY ALERT*\n"+
			"Severity: %s *%s*\n"+
			"\n"+
			"\U0001f4cd *EVENT*\n"+
			"Location: %s\n"+
			"Zone: %s\n"+
			"Time: %s • %s\n"+
			"Event: `%s`\n"+
			"\n"+
			"\U0001f464 *SUBJECT*\n"+
			"Identity: %s\n"+
			"%s\n"+
			"\n"+
			"\U0001f3af *BEHAVIOR OBSERVED*\n"+
			"%s\n"+
			"\n"+
			"\U0001f9e0 *RISK ASSESSMENT*\n"+
			"Threat: %s\n"+
			"Confidence: %s\n"+
			"Reason: _%s_\n"+
			"\n"+
			"\U0001f4cd *CONTEXT*\n"+
			"Building: %s\n"+
			"Expected: %s\n"+
			"Known faces: %s%s\n"+
			"\n"+
			"⚡ *SYSTEM ACTION*\n"+
			"%s\n"+
			"\n"+
			"\U0001f4ce *MEDIA*\n"+
			"%s\n"+
			"%s",
		riskIcon, riskLevel,
		camera, zone, now.Format("15:04:05"), now.Format("02 Jan 2006"), eventShort,
		identity, subjectDesc,
		behavior,
		riskLevel, confDisplay, d.Reason,
		buildingStatus, expected, knownFaces, recentLine,
		actionText,
		snapLine, clipLine,
	)

	if media.Monitoring {
		msg += "\n\U0001f4f9 Continued monitoring active"
	}
	msg += escalationBlock(riskLevel)
	return msg
}

// behaviorText takes the model's behavior field, falling back to the first
// useful lines of the analysis text.
func behaviorText(d decision.Decision, analysisText string) string {
	behavior := d.Behavior
	if behavior == "" {
		clean := decision.CleanAnalysis(decision.StripJSONBlock(analysisText))
		var lines []string
		for _, ln := range strings.Split(clean, "\n") {
			s := strings.TrimSpace(ln)
			if s == "" || strings.HasPrefix(strings.ToLower(s), "security assessment") {
				continue
			}
			lines = append(lines, s)
			if len(lines) == 5 {
				break
			}
		}
		behavior = strings.TrimSpace(strings.Join(lines, "\n"))
	}
	if behavior == "" {
		behavior = "Person detected in view"
	}
	if len(behavior) > 500 {
		behavior = behavior[:497] + "..."
	}
	return behavior
}

func escalationBlock(riskLevel string) string {
	switch riskLevel {
	case "MEDIUM":
		return "\n\n⚠️ *ESCALATION CONDITIONS*\n" +
			"Will upgrade to HIGH if:\n" +
			"• Subject remains > 60 sec\n" +
			"• Forced entry attempt detected\n" +
			"• Additional persons appear"
	case "HIGH":
		return "\n\n⚠️ *ESCALATION CONDITIONS*\n" +
			"Will upgrade to CRITICAL if:\n" +
			"• Break-in attempt detected\n" +
			"• Weapon or tool observed\n" +
			"• Multiple intruders confirmed"
	case "CRITICAL":
		return "\n\n\U0001f6a8 *IMMEDIATE RESPONSE*\n" +
			"• Alarm siren active\n" +
			"• All lights ON\n" +
			"• Evidence being recorded\n" +
			"• Consider calling authorities"
	}
	return ""
}

// clipExists reports whether a usable archived clip is on disk.
func clipExists(cfg *config.Config, eventID string) bool {
	info, err := os.Stat(cfg.ClipDir + "/" + eventID + ".mp4")
	return err == nil && info.Size() > 1000
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
