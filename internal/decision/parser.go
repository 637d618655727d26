package decision

import (
	"encoding/json"
	"log"
	"regexp"
	"strings"
)

var (
	jsonPrefixRe = regexp.MustCompile(`(?i)^json:\s*(.*)`)
	fenceRe      = regexp.MustCompile("(?i)```(?:json)?\\s*\\n(\\{[^`]+\\})\\s*\\n```")
	embeddedRe   = regexp.MustCompile(`(\{[^{}]*"risk"\s*:\s*"[^"]*"[^{}]*\})`)
)

// Parse extracts the decision block from a VLM reply. Strategies, in order:
// a line prefixed "json:" (payload inline or on the next line), a fenced
// code block, a bare object line containing "risk", and a regex search for
// an embedded object. When none yield a decision the reply text itself is
// mined for a fallback verdict.
func Parse(analysis string) Decision {
	if analysis == "" {
		return fallbackDecision("")
	}

	lines := strings.Split(analysis, "\n")

	for i := len(lines) - 1; i >= 0; i-- {
		stripped := strings.TrimSpace(lines[i])
		m := jsonPrefixRe.FindStringSubmatch(stripped)
		if m == nil {
			continue
		}
		jsonStr := strings.TrimSpace(m[1])
		if jsonStr == "" && i+1 < len(lines) {
			jsonStr = strings.TrimSpace(lines[i+1])
		}
		if jsonStr != "" {
			if d, ok := tryParse(jsonStr); ok {
				log.Printf("Decision: parsed JSON (prefix): risk=%s action=%s", d.Risk, d.Action)
				return d
			}
		}
		break
	}

	if m := fenceRe.FindStringSubmatch(analysis); m != nil {
		if d, ok := tryParse(strings.TrimSpace(m[1])); ok {
			log.Printf("Decision: parsed JSON (code fence): risk=%s action=%s", d.Risk, d.Action)
			return d
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		stripped := strings.TrimSpace(lines[i])
		if strings.HasPrefix(stripped, "{") && strings.HasSuffix(stripped, "}") && strings.Contains(stripped, "risk") {
			if d, ok := tryParse(stripped); ok {
				log.Printf("Decision: parsed JSON (bare): risk=%s action=%s", d.Risk, d.Action)
				return d
			}
		}
	}

	if m := embeddedRe.FindStringSubmatch(analysis); m != nil {
		if d, ok := tryParse(m[1]); ok {
			log.Printf("Decision: parsed JSON (embedded): risk=%s action=%s", d.Risk, d.Action)
			return d
		}
	}

	log.Printf("Decision: no JSON block found, using text fallback")
	return fallbackDecision(analysis)
}

// tryParse accepts both wire shapes: the flat object and the structured one
// with a nested risk {level, confidence, reason}. Structured is flattened.
func tryParse(jsonStr string) (Decision, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return Decision{}, false
	}

	riskRaw, hasRisk := raw["risk"]
	if !hasRisk {
		return Decision{}, false
	}

	// Structured shape: risk is an object.
	var riskObj struct {
		Level      string  `json:"level"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal(riskRaw, &riskObj); err == nil && riskObj.Level != "" {
		d := Decision{
			Risk:       strings.ToLower(riskObj.Level),
			Confidence: riskObj.Confidence,
			Reason:     riskObj.Reason,
			Type:       "other",
			Action:     ActionNotifyOnly,
		}
		if d.Confidence == 0 {
			d.Confidence = 0.5
		}
		if d.Reason == "" {
			d.Reason = "AI analysis"
		}
		unmarshalStr(raw, "type", &d.Type)
		unmarshalStr(raw, "action", &d.Action)
		unmarshalStr(raw, "behavior", &d.Behavior)
		if subRaw, ok := raw["subject"]; ok {
			_ = json.Unmarshal(subRaw, &d.Subject)
		}
		return d, true
	}

	// Flat shape.
	var flat Decision
	if err := json.Unmarshal([]byte(jsonStr), &flat); err != nil {
		return Decision{}, false
	}
	if flat.Risk == "" || flat.Action == "" {
		return Decision{}, false
	}
	if flat.Type == "" {
		flat.Type = "other"
	}
	if flat.Confidence == 0 {
		flat.Confidence = 0.5
	}
	if flat.Reason == "" {
		flat.Reason = "AI analysis"
	}
	return flat, true
}

func unmarshalStr(raw map[string]json.RawMessage, key string, dst *string) {
	if v, ok := raw[key]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			*dst = s
		}
	}
}

// ExtractRisk pulls a threat level out of free text ("Threat: HIGH").
func ExtractRisk(analysis string) string {
	upper := strings.ToUpper(analysis)
	switch {
	case strings.Contains(upper, "THREAT: CRITICAL"), strings.Contains(upper, "THREAT:CRITICAL"):
		return RiskCritical
	case strings.Contains(upper, "THREAT: HIGH"), strings.Contains(upper, "THREAT:HIGH"):
		return RiskHigh
	case strings.Contains(upper, "THREAT: MEDIUM"), strings.Contains(upper, "THREAT:MEDIUM"):
		return RiskMedium
	default:
		return RiskLow
	}
}

// DefaultActionFor maps a risk level to the standard escalation action.
func DefaultActionFor(risk string) string {
	switch risk {
	case RiskMedium:
		return ActionSaveClip
	case RiskHigh:
		return ActionLight
	case RiskCritical:
		return ActionAlarm
	default:
		return ActionNotifyOnly
	}
}

func fallbackDecision(analysis string) Decision {
	risk := ExtractRisk(analysis)
	upper := strings.ToUpper(analysis)

	detType := "other"
	switch {
	case containsAny(upper, "DELIVERY", "PACKAGE", "COURIER", "PARCEL"):
		detType = "delivery"
	case containsAny(upper, "KNOWN PERSON", "FAMILIAR", "RECOGNIZED", "HOUSEHOLD"):
		detType = "known_person"
	case containsAny(upper, "LOITERING", "LINGERING", "WAITING SUSPICIOUSLY"):
		detType = "loitering"
	case containsAny(upper, "VEHICLE", "CAR ", "MOTORCYCLE", "BIKE "):
		detType = "vehicle"
	case containsAny(upper, "ANIMAL", "CAT ", "DOG ", "BIRD "):
		detType = "animal"
	case containsAny(upper, "PERSON", "INDIVIDUAL", "MALE", "FEMALE"):
		detType = "unknown_person"
	}

	conf := 0.6
	if risk == RiskLow {
		conf = 0.4
	}
	reason := "Extracted from AI text (no structured JSON)"
	if analysis == "" {
		reason = "AI decision unavailable"
	}

	return Decision{
		Risk:       risk,
		Type:       detType,
		Confidence: conf,
		Action:     DefaultActionFor(risk),
		Reason:     reason,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Sanitize clamps every field to a safe value. Idempotent.
func Sanitize(d Decision) Decision {
	out := d

	out.Risk = strings.ToLower(out.Risk)
	if !ValidRisk(out.Risk) {
		out.Risk = RiskLow
	}
	if !ValidAction(out.Action) {
		out.Action = ActionNotifyOnly
	}

	// Some model replies report confidence as a percentage.
	if out.Confidence > 1.0 && out.Confidence <= 100.0 {
		out.Confidence = out.Confidence / 100.0
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}

	if out.Type == "" {
		out.Type = "other"
	}
	if out.Reason == "" {
		out.Reason = "AI decision unavailable"
	}
	return out
}

// StripJSONBlock removes the trailing "JSON: {...}" decision block from the
// reply, whether the object is inline or on the following line.
func StripJSONBlock(analysis string) string {
	var out []string
	skipNextJSONLine := false
	for _, line := range strings.Split(analysis, "\n") {
		stripped := strings.TrimSpace(line)

		if skipNextJSONLine {
			skipNextJSONLine = false
			if strings.HasPrefix(stripped, "{") && strings.HasSuffix(stripped, "}") {
				continue
			}
		}

		if m := jsonPrefixRe.FindStringSubmatch(stripped); m != nil {
			tail := strings.TrimSpace(m[1])
			if strings.HasPrefix(tail, "{") && strings.HasSuffix(tail, "}") {
				continue
			}
			if tail == "" {
				skipNextJSONLine = true
				continue
			}
		}

		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// CleanAnalysis strips the JSON block plus MEDIA references and attachment
// chatter, leaving only the human-readable assessment.
func CleanAnalysis(analysis string) string {
	var out []string
	for _, line := range strings.Split(StripJSONBlock(analysis), "\n") {
		s := strings.TrimSpace(line)
		low := strings.ToLower(s)
		if s == "" || strings.HasPrefix(low, "media:") || strings.Contains(low, "ai-snapshots/") {
			continue
		}
		if strings.HasPrefix(low, "attached") {
			continue
		}
		out = append(out, s)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
