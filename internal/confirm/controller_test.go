package confirm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/platform/paths"
	"github.com/technosupport/ts-sentinel/internal/policy"
	"github.com/technosupport/ts-sentinel/internal/vlm"
)

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) FetchSnapshot(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

type fakeConfirmer struct {
	reply string
	err   error
	req   vlm.Request
}

func (f *fakeConfirmer) Confirm(_ context.Context, req vlm.Request, _ decision.Decision) (string, error) {
	f.req = req
	return f.reply, f.err
}

func newTestController(t *testing.T, fetcher *fakeFetcher, model *fakeConfirmer) (*Controller, *config.Store) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ConfirmDelaySeconds = 0
	store := config.NewStore(cfg)
	c := NewController(store, fetcher, model)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	c.stage = func(_ *config.Config, eventID, suffix string, _ []byte) (paths.StagedMedia, error) {
		return paths.StagedMedia{
			AbsPath: "/ws/ai-snapshots/" + eventID + suffix + ".jpg",
			RelPath: "./frigate/storage/ai-snapshots/" + eventID + suffix + ".jpg",
		}, nil
	}
	return c, store
}

func highDecision() decision.Decision {
	return decision.Decision{
		Risk: decision.RiskHigh, Type: "unknown_person", Confidence: 0.8,
		Action: decision.ActionLight, Reason: "after hours",
	}
}

func TestParseVerdict(t *testing.T) {
	text := "Looked again.\n" +
		`CONFIRM_JSON: {"confirmed":true,"risk":"HIGH","action":"notify_and_light","reason":"still there"}`

	v, ok := ParseVerdict(text)
	require.True(t, ok)
	assert.True(t, v.Confirmed)
	assert.Equal(t, "high", v.Risk)
	assert.Equal(t, "notify_and_light", v.Action)
}

func TestParseVerdictMissing(t *testing.T) {
	_, ok := ParseVerdict("no verdict here")
	assert.False(t, ok)

	_, ok = ParseVerdict("CONFIRM_JSON: {broken")
	assert.False(t, ok)

	_, ok = ParseVerdict("CONFIRM_JSON:")
	assert.False(t, ok)
}

func TestParseVerdictNextLine(t *testing.T) {
	text := "Looked again.\nCONFIRM_JSON:\n" +
		`{"confirmed":false,"reason":"person left"}`

	v, ok := ParseVerdict(text)
	require.True(t, ok)
	assert.False(t, v.Confirmed)
	assert.Equal(t, "person left", v.Reason)
}

func TestParseVerdictRequiresConfirmedKey(t *testing.T) {
	_, ok := ParseVerdict(`CONFIRM_JSON: {"risk":"high","action":"notify_and_light"}`)
	assert.False(t, ok)
}

func TestRunSkipsWhenRiskNotListed(t *testing.T) {
	model := &fakeConfirmer{}
	c, _ := newTestController(t, &fakeFetcher{data: []byte("img")}, model)

	d := decision.Decision{Risk: decision.RiskMedium, Action: decision.ActionSaveClip}
	out, note := c.Run(context.Background(), "gate", "ev1", d, policy.Context{}, "- none")
	assert.Equal(t, d, out)
	assert.Empty(t, note)
	assert.Empty(t, model.req.EventID)
}

func TestRunConfirmedKeepsDecision(t *testing.T) {
	model := &fakeConfirmer{reply: `CONFIRM_JSON: {"confirmed":true,"risk":"high","action":"notify_and_light","reason":"verified person"}`}
	c, _ := newTestController(t, &fakeFetcher{data: []byte("img")}, model)

	out, note := c.Run(context.Background(), "gate", "ev1", highDecision(), policy.Context{}, "- none")
	assert.Equal(t, decision.RiskHigh, out.Risk)
	assert.Equal(t, decision.ActionLight, out.Action)
	assert.Equal(t, "verified person", out.Reason)
	assert.Equal(t, "Second-pass confirmation: confirmed.", note)
	// The second pass analyzes the -confirm staged snapshot.
	assert.Contains(t, model.req.StagedAbsPath, "ev1-confirm.jpg")
}

func TestRunNotConfirmedDowngrades(t *testing.T) {
	model := &fakeConfirmer{reply: `CONFIRM_JSON: {"confirmed":false,"risk":"low","action":"notify_only","reason":"nobody in frame"}`}
	c, _ := newTestController(t, &fakeFetcher{data: []byte("img")}, model)

	out, note := c.Run(context.Background(), "gate", "ev1", highDecision(), policy.Context{}, "- none")
	assert.Equal(t, decision.RiskMedium, out.Risk)
	assert.Equal(t, decision.ActionSaveClip, out.Action)
	assert.Equal(t, "nobody in frame", out.Reason)
	assert.Contains(t, note, "NOT confirmed")
}

func TestRunConfirmedCanLowerRisk(t *testing.T) {
	model := &fakeConfirmer{reply: `CONFIRM_JSON: {"confirmed":true,"risk":"medium","action":"notify_and_save_clip","reason":"just a courier"}`}
	c, _ := newTestController(t, &fakeFetcher{data: []byte("img")}, model)

	out, _ := c.Run(context.Background(), "gate", "ev1", highDecision(), policy.Context{}, "- none")
	assert.Equal(t, decision.RiskMedium, out.Risk)
	assert.Equal(t, decision.ActionSaveClip, out.Action)
}

func TestRunNoSecondSnapshotKeepsInitial(t *testing.T) {
	c, _ := newTestController(t, &fakeFetcher{err: errors.New("404")}, &fakeConfirmer{})

	initial := highDecision()
	out, note := c.Run(context.Background(), "gate", "ev1", initial, policy.Context{}, "- none")
	assert.Equal(t, initial, out)
	assert.Contains(t, note, "no second snapshot")
}

func TestRunModelFailureKeepsInitial(t *testing.T) {
	c, _ := newTestController(t, &fakeFetcher{data: []byte("img")}, &fakeConfirmer{err: errors.New("timeout")})

	initial := highDecision()
	out, note := c.Run(context.Background(), "gate", "ev1", initial, policy.Context{}, "- none")
	assert.Equal(t, initial, out)
	assert.Contains(t, note, "invalid response")
}

func TestRunVerdictWithoutConfirmedKeyKeepsInitial(t *testing.T) {
	// A reply that echoes risk and action but never says confirmed must not
	// read as a rejection and downgrade the alert.
	model := &fakeConfirmer{reply: `CONFIRM_JSON: {"risk":"high","action":"notify_and_light"}`}
	c, _ := newTestController(t, &fakeFetcher{data: []byte("img")}, model)

	initial := highDecision()
	out, note := c.Run(context.Background(), "gate", "ev1", initial, policy.Context{}, "- none")
	assert.Equal(t, initial, out)
	assert.Contains(t, note, "invalid response")
	assert.NotContains(t, note, "NOT confirmed")
}

func TestRunNextLineVerdictDowngrades(t *testing.T) {
	model := &fakeConfirmer{reply: "Second look done.\nCONFIRM_JSON:\n" +
		`{"confirmed":false,"reason":"person left"}`}
	c, _ := newTestController(t, &fakeFetcher{data: []byte("img")}, model)

	out, note := c.Run(context.Background(), "gate", "ev1", highDecision(), policy.Context{}, "- none")
	assert.Equal(t, decision.RiskMedium, out.Risk)
	assert.Equal(t, decision.ActionSaveClip, out.Action)
	assert.Equal(t, "person left", out.Reason)
	assert.Contains(t, note, "NOT confirmed")
}

func TestRunGarbageVerdictKeepsInitial(t *testing.T) {
	c, _ := newTestController(t, &fakeFetcher{data: []byte("img")}, &fakeConfirmer{reply: "I am not sure what I see."})

	initial := highDecision()
	out, note := c.Run(context.Background(), "gate", "ev1", initial, policy.Context{}, "- none")
	assert.Equal(t, initial, out)
	assert.Contains(t, note, "invalid response")
}

func TestWanted(t *testing.T) {
	cfg := config.Defaults()
	assert.True(t, Wanted(cfg, "high"))
	assert.True(t, Wanted(cfg, "CRITICAL"))
	assert.False(t, Wanted(cfg, "medium"))

	cfg.ConfirmEnabled = false
	assert.False(t, Wanted(cfg, "high"))
}
