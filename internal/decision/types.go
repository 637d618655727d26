package decision

// Risk levels, lowest to highest.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Allowed action labels. Anything else collapses to ActionNotifyOnly.
const (
	ActionNotifyOnly   = "notify_only"
	ActionSaveClip     = "notify_and_save_clip"
	ActionLight        = "notify_and_light"
	ActionSpeaker      = "notify_and_speaker"
	ActionAlarm        = "notify_and_alarm"
)

var allowedActions = map[string]bool{
	ActionNotifyOnly: true,
	ActionSaveClip:   true,
	ActionLight:      true,
	ActionSpeaker:    true,
	ActionAlarm:      true,
}

var riskRank = map[string]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// ValidRisk reports whether s is one of the four risk levels.
func ValidRisk(s string) bool {
	_, ok := riskRank[s]
	return ok
}

// ValidAction reports whether s is in the allowed action set.
func ValidAction(s string) bool {
	return allowedActions[s]
}

// RiskAtLeast reports whether risk is at or above threshold. Unknown values
// rank lowest.
func RiskAtLeast(risk, threshold string) bool {
	return riskRank[risk] >= riskRank[threshold]
}

// Subject describes who the VLM saw.
type Subject struct {
	Identity    string `json:"identity"`
	Description string `json:"description"`
}

// Decision is the normalized AI verdict for one event.
type Decision struct {
	Risk       string  `json:"risk"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Action     string  `json:"action"`
	Reason     string  `json:"reason"`
	Behavior   string  `json:"behavior,omitempty"`
	Subject    Subject `json:"subject,omitempty"`
}
