package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-sentinel/internal/decision"
)

func TestScoreSeverity(t *testing.T) {
	cases := []struct {
		name string
		d    decision.Decision
		p    Context
		want string
	}{
		{
			name: "daytime known person is low",
			d:    decision.Decision{Type: "known_person"},
			p:    Context{TimeOfDay: "day", HomeMode: "home", CameraZone: "garden"},
			want: decision.RiskLow,
		},
		{
			name: "unknown at night away with strong behavior is critical",
			d:    decision.Decision{Type: "unknown_person", Behavior: "forcing the door"},
			p:    Context{TimeOfDay: "night", HomeMode: "away", CameraZone: "entry"},
			want: decision.RiskCritical,
		},
		{
			name: "unknown in the evening is medium",
			d:    decision.Decision{Type: "unknown_person"},
			p:    Context{TimeOfDay: "evening", HomeMode: "home", CameraZone: "garden"},
			want: decision.RiskMedium,
		},
		{
			name: "loitering in sensitive zone during sleep is high",
			d:    decision.Decision{Type: "loitering"},
			p:    Context{TimeOfDay: "day", HomeMode: "sleep", CameraZone: "garage"},
			want: decision.RiskHigh,
		},
		{
			name: "delivery in daytime is low",
			d:    decision.Decision{Type: "delivery"},
			p:    Context{TimeOfDay: "day", HomeMode: "home", CameraZone: "entry"},
			want: decision.RiskLow,
		},
		{
			name: "known faces offset an evening unknown",
			d:    decision.Decision{Type: "unknown_person"},
			p:    Context{TimeOfDay: "evening", HomeMode: "home", CameraZone: "garden", KnownFacesPresent: true},
			want: decision.RiskLow,
		},
		{
			name: "repeat events push the score up",
			d:    decision.Decision{Type: "unknown_person", Behavior: "looking around"},
			p:    Context{TimeOfDay: "evening", HomeMode: "home", CameraZone: "terrace-east", RecentEventsCount: 3},
			want: decision.RiskHigh,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ScoreSeverity(tc.d, tc.p))
		})
	}
}

func TestApplyOverridesRiskAndAction(t *testing.T) {
	d := decision.Decision{Risk: "low", Type: "unknown_person", Action: decision.ActionNotifyOnly, Behavior: "climbing the fence"}
	p := Context{TimeOfDay: "night", HomeMode: "away", CameraZone: "entry"}

	out, changed := Apply(d, p)
	assert.True(t, changed)
	assert.Equal(t, decision.RiskCritical, out.Risk)
	assert.Equal(t, decision.ActionAlarm, out.Action)
}

func TestApplyAgreementKeepsDecision(t *testing.T) {
	d := decision.Decision{Risk: "low", Type: "known_person", Action: decision.ActionNotifyOnly}
	p := Context{TimeOfDay: "day", HomeMode: "home", CameraZone: "garden"}

	out, changed := Apply(d, p)
	assert.False(t, changed)
	assert.Equal(t, d, out)
}

func TestDecideMedia(t *testing.T) {
	low := DecideMedia(decision.RiskLow)
	assert.True(t, low.Snapshot)
	assert.False(t, low.Clip)
	assert.False(t, low.Monitoring)

	med := DecideMedia(decision.RiskMedium)
	assert.True(t, med.Clip)
	assert.Equal(t, 15, med.ClipLength)
	assert.False(t, med.Monitoring)

	high := DecideMedia(decision.RiskHigh)
	assert.Equal(t, 30, high.ClipLength)
	assert.True(t, high.Monitoring)

	crit := DecideMedia(decision.RiskCritical)
	assert.Equal(t, 60, crit.ClipLength)
	assert.True(t, crit.Monitoring)
}

func TestTimeBucket(t *testing.T) {
	assert.Equal(t, "day", TimeBucket(6))
	assert.Equal(t, "day", TimeBucket(17))
	assert.Equal(t, "evening", TimeBucket(18))
	assert.Equal(t, "evening", TimeBucket(22))
	assert.Equal(t, "night", TimeBucket(23))
	assert.Equal(t, "night", TimeBucket(2))
	assert.Equal(t, "night", TimeBucket(5))
}
