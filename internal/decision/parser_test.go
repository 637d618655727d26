package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefixInline(t *testing.T) {
	text := "Person at the gate, looks routine.\n" +
		`JSON: {"risk":"medium","type":"unknown_person","confidence":0.8,"action":"notify_and_save_clip","reason":"unfamiliar person near entry"}`

	d := Parse(text)
	assert.Equal(t, "medium", d.Risk)
	assert.Equal(t, "unknown_person", d.Type)
	assert.Equal(t, ActionSaveClip, d.Action)
	assert.InDelta(t, 0.8, d.Confidence, 0.001)
}

func TestParsePrefixNextLine(t *testing.T) {
	text := "Assessment done.\nJSON:\n" +
		`{"risk":"high","type":"loitering","confidence":0.7,"action":"notify_and_light","reason":"lingering by the garage"}`

	d := Parse(text)
	assert.Equal(t, "high", d.Risk)
	assert.Equal(t, ActionLight, d.Action)
}

func TestParseLastPrefixWins(t *testing.T) {
	// Two JSON: lines; the bottom one is the decision.
	text := `JSON: {"risk":"low","type":"other","confidence":0.5,"action":"notify_only","reason":"first"}` + "\n" +
		"more text\n" +
		`JSON: {"risk":"critical","type":"unknown_person","confidence":0.9,"action":"notify_and_alarm","reason":"second"}`

	d := Parse(text)
	assert.Equal(t, "critical", d.Risk)
	assert.Equal(t, "second", d.Reason)
}

func TestParseCodeFence(t *testing.T) {
	text := "Here is my verdict:\n```json\n" +
		`{"risk":"medium","type":"delivery","confidence":0.85,"action":"notify_and_save_clip","reason":"courier drop"}` +
		"\n```"

	d := Parse(text)
	assert.Equal(t, "medium", d.Risk)
	assert.Equal(t, "delivery", d.Type)
}

func TestParseBareLine(t *testing.T) {
	text := "Summary above.\n" +
		`{"risk":"low","type":"animal","confidence":0.6,"action":"notify_only","reason":"cat on the wall"}`

	d := Parse(text)
	assert.Equal(t, "animal", d.Type)
}

func TestParseEmbedded(t *testing.T) {
	text := `The verdict {"risk":"high","action":"notify_and_light","reason":"after hours"} stands.`

	d := Parse(text)
	assert.Equal(t, "high", d.Risk)
	assert.Equal(t, ActionLight, d.Action)
}

func TestParseStructuredShape(t *testing.T) {
	text := `JSON: {"subject":{"identity":"unknown","description":"tall figure in dark hoodie"},` +
		`"behavior":"trying the door handle","risk":{"level":"CRITICAL","confidence":0.92,"reason":"forced entry attempt"},` +
		`"type":"unknown_person","action":"notify_and_alarm"}`

	d := Parse(text)
	require.Equal(t, "critical", d.Risk)
	assert.InDelta(t, 0.92, d.Confidence, 0.001)
	assert.Equal(t, "forced entry attempt", d.Reason)
	assert.Equal(t, "trying the door handle", d.Behavior)
	assert.Equal(t, "tall figure in dark hoodie", d.Subject.Description)
	assert.Equal(t, ActionAlarm, d.Action)
}

func TestParseStructuredDefaults(t *testing.T) {
	d := Parse(`JSON: {"risk":{"level":"low"}}`)
	assert.Equal(t, "low", d.Risk)
	assert.InDelta(t, 0.5, d.Confidence, 0.001)
	assert.Equal(t, "AI analysis", d.Reason)
	assert.Equal(t, "other", d.Type)
	assert.Equal(t, ActionNotifyOnly, d.Action)
}

func TestParseFallbackFromText(t *testing.T) {
	d := Parse("[front_door] Threat: HIGH\nUnknown individual lurking near the entry.")
	assert.Equal(t, RiskHigh, d.Risk)
	assert.Equal(t, ActionLight, d.Action)
	assert.Equal(t, "unknown_person", d.Type)
	assert.InDelta(t, 0.6, d.Confidence, 0.001)
	assert.Equal(t, "Extracted from AI text (no structured JSON)", d.Reason)
}

func TestParseFallbackTypes(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"A courier left a package at the door", "delivery"},
		{"Recognized household member walking in", "known_person"},
		{"Someone lingering by the fence, waiting suspiciously", "loitering"},
		{"A vehicle pulled into the driveway", "vehicle"},
		{"A dog wandered across the lawn", "animal"},
		{"A person stands near the gate", "unknown_person"},
	}
	for _, tc := range cases {
		d := Parse(tc.text)
		assert.Equal(t, tc.want, d.Type, "text: %s", tc.text)
	}
}

func TestParseEmpty(t *testing.T) {
	d := Parse("")
	assert.Equal(t, RiskLow, d.Risk)
	assert.Equal(t, ActionNotifyOnly, d.Action)
	assert.Equal(t, "AI decision unavailable", d.Reason)
	assert.InDelta(t, 0.4, d.Confidence, 0.001)
}

func TestExtractRisk(t *testing.T) {
	assert.Equal(t, RiskCritical, ExtractRisk("threat: critical happening"))
	assert.Equal(t, RiskHigh, ExtractRisk("[cam] THREAT:HIGH"))
	assert.Equal(t, RiskMedium, ExtractRisk("Threat: MEDIUM seen"))
	assert.Equal(t, RiskLow, ExtractRisk("all calm"))
}

func TestSanitizePercentConfidence(t *testing.T) {
	d := Sanitize(Decision{Risk: "HIGH", Action: ActionLight, Confidence: 85})
	assert.Equal(t, "high", d.Risk)
	assert.InDelta(t, 0.85, d.Confidence, 0.001)
}

func TestSanitizeClamps(t *testing.T) {
	d := Sanitize(Decision{Risk: "extreme", Action: "panic", Confidence: 250})
	assert.Equal(t, RiskLow, d.Risk)
	assert.Equal(t, ActionNotifyOnly, d.Action)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, "other", d.Type)
	assert.Equal(t, "AI decision unavailable", d.Reason)

	neg := Sanitize(Decision{Risk: "low", Action: ActionNotifyOnly, Confidence: -3})
	assert.Equal(t, 0.0, neg.Confidence)
}

func TestSanitizeIdempotent(t *testing.T) {
	d := Sanitize(Decision{Risk: "Medium", Action: ActionSaveClip, Confidence: 90, Type: "delivery", Reason: "ok"})
	again := Sanitize(d)
	assert.Equal(t, d, again)
}

func TestStripJSONBlock(t *testing.T) {
	text := "Visible person at the door.\n" +
		`JSON: {"risk":"low","action":"notify_only"}`
	assert.Equal(t, "Visible person at the door.", StripJSONBlock(text))

	nextLine := "Assessment.\nJSON:\n{\"risk\":\"low\"}"
	assert.Equal(t, "Assessment.", StripJSONBlock(nextLine))
}

func TestCleanAnalysis(t *testing.T) {
	text := "MEDIA:./frigate/storage/ai-snapshots/abc.jpg\n" +
		"Attached snapshot for review\n" +
		"Person walking up the driveway.\n" +
		`JSON: {"risk":"low","action":"notify_only"}`
	assert.Equal(t, "Person walking up the driveway.", CleanAnalysis(text))
}

func TestDefaultActionFor(t *testing.T) {
	assert.Equal(t, ActionNotifyOnly, DefaultActionFor(RiskLow))
	assert.Equal(t, ActionSaveClip, DefaultActionFor(RiskMedium))
	assert.Equal(t, ActionLight, DefaultActionFor(RiskHigh))
	assert.Equal(t, ActionAlarm, DefaultActionFor(RiskCritical))
}
