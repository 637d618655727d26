package actions

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
)

type fakeNVR struct {
	retained []string
	clip     []byte
	clipErr  error
}

func (f *fakeNVR) RetainEvent(_ context.Context, eventID string) error {
	f.retained = append(f.retained, eventID)
	return nil
}

func (f *fakeNVR) FetchClip(context.Context, string) ([]byte, error) {
	return f.clip, f.clipErr
}

type hubCall struct {
	domain, service string
	data            map[string]any
}

type fakeHub struct {
	calls []hubCall
	err   error
}

func (f *fakeHub) CallService(_ context.Context, domain, service string, data map[string]any) error {
	f.calls = append(f.calls, hubCall{domain, service, data})
	return f.err
}

func newTestExecutor(t *testing.T, hour int) (*Executor, *fakeNVR, *fakeHub, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ClipDir = filepath.Join(t.TempDir(), "clips")
	cfg.SpeakerTargets = []string{"media_player.kitchen_echo"}
	cfg.CameraLights = map[string][]string{"gate": {"light.gate_a", "light.gate_b"}}
	store := config.NewStore(cfg)

	nvr := &fakeNVR{clip: bytes.Repeat([]byte{1}, 2000)}
	hub := &fakeHub{}
	e := NewExecutor(store, nvr, hub)
	e.nowFn = func() time.Time { return time.Date(2026, 8, 24, hour, 0, 0, 0, time.UTC) }
	return e, nvr, hub, cfg
}

func TestInQuietHours(t *testing.T) {
	// 23..06 wraps midnight; start inclusive, end exclusive.
	assert.True(t, InQuietHours(23, 23, 6))
	assert.True(t, InQuietHours(2, 23, 6))
	assert.False(t, InQuietHours(6, 23, 6))
	assert.False(t, InQuietHours(12, 23, 6))

	// Non-wrapping window.
	assert.True(t, InQuietHours(13, 12, 14))
	assert.False(t, InQuietHours(14, 12, 14))
}

func TestLowRiskForcedToNotifyOnly(t *testing.T) {
	e, nvr, hub, _ := newTestExecutor(t, 12)
	d := decision.Decision{Risk: decision.RiskLow, Action: decision.ActionAlarm}

	e.Execute(context.Background(), d, "gate", "tts", "ev1")
	assert.Empty(t, nvr.retained)
	assert.Empty(t, hub.calls)
}

func TestUnknownActionFallsBack(t *testing.T) {
	e, nvr, hub, _ := newTestExecutor(t, 12)
	d := decision.Decision{Risk: decision.RiskHigh, Action: "call_the_police"}

	e.Execute(context.Background(), d, "gate", "tts", "ev1")
	assert.Empty(t, nvr.retained)
	assert.Empty(t, hub.calls)
}

func TestSaveClipAction(t *testing.T) {
	e, nvr, hub, cfg := newTestExecutor(t, 12)
	d := decision.Decision{Risk: decision.RiskMedium, Action: decision.ActionSaveClip}

	e.Execute(context.Background(), d, "gate", "tts", "ev1")
	require.Equal(t, []string{"ev1"}, nvr.retained)
	assert.Empty(t, hub.calls)
	assert.FileExists(t, filepath.Join(cfg.ClipDir, "ev1.mp4"))
}

func TestLightActionSavesClipAndLights(t *testing.T) {
	e, nvr, hub, _ := newTestExecutor(t, 12)
	d := decision.Decision{Risk: decision.RiskHigh, Action: decision.ActionLight}

	e.Execute(context.Background(), d, "gate", "tts", "ev1")
	assert.Equal(t, []string{"ev1"}, nvr.retained)
	require.Len(t, hub.calls, 2)
	for _, call := range hub.calls {
		assert.Equal(t, "light", call.domain)
		assert.Equal(t, "turn_on", call.service)
		assert.Equal(t, 100, call.data["brightness_pct"])
	}
	assert.Equal(t, "light.gate_a", hub.calls[0].data["entity_id"])
	assert.Equal(t, "light.gate_b", hub.calls[1].data["entity_id"])
}

func TestSpeakerSuppressedDuringQuietHours(t *testing.T) {
	e, _, hub, _ := newTestExecutor(t, 2)
	d := decision.Decision{Risk: decision.RiskHigh, Action: decision.ActionSpeaker}

	e.Execute(context.Background(), d, "gate", "tts", "ev1")
	assert.Empty(t, hub.calls)
}

func TestSpeakerAllowedForCriticalDuringQuietHours(t *testing.T) {
	e, _, hub, _ := newTestExecutor(t, 2)
	d := decision.Decision{Risk: decision.RiskCritical, Action: decision.ActionSpeaker}

	e.Execute(context.Background(), d, "gate", "say this", "ev1")
	require.Len(t, hub.calls, 1)
	assert.Equal(t, "notify", hub.calls[0].domain)
	assert.Equal(t, "alexa_media", hub.calls[0].service)
	assert.Equal(t, "say this", hub.calls[0].data["message"])
}

func TestAlarmActionEscalatesEverything(t *testing.T) {
	e, nvr, hub, _ := newTestExecutor(t, 12)
	d := decision.Decision{Risk: decision.RiskCritical, Action: decision.ActionAlarm}

	e.Execute(context.Background(), d, "gate", "tts", "ev1")
	assert.Equal(t, []string{"ev1"}, nvr.retained)

	var domains []string
	for _, c := range hub.calls {
		domains = append(domains, c.domain+"/"+c.service)
	}
	assert.Equal(t, []string{"light/turn_on", "light/turn_on", "switch/turn_on", "notify/alexa_media"}, domains)
	assert.Equal(t, "switch.security_siren", hub.calls[2].data["entity_id"])
}

func TestAlarmSkipsSpeakerInQuietHoursForNonCritical(t *testing.T) {
	e, _, hub, _ := newTestExecutor(t, 3)
	d := decision.Decision{Risk: decision.RiskHigh, Action: decision.ActionAlarm}

	e.Execute(context.Background(), d, "gate", "tts", "ev1")
	for _, c := range hub.calls {
		assert.NotEqual(t, "notify", c.domain)
	}
}

func TestClipDownloadFailureIsNonFatal(t *testing.T) {
	e, nvr, hub, _ := newTestExecutor(t, 12)
	nvr.clipErr = errors.New("503")
	d := decision.Decision{Risk: decision.RiskHigh, Action: decision.ActionLight}

	e.Execute(context.Background(), d, "gate", "tts", "ev1")
	// Lights still fire even when the clip path failed.
	assert.NotEmpty(t, hub.calls)
}
