package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/policy"
)

type webhookCapture struct {
	mu       sync.Mutex
	payloads []map[string]any
	auth     []string
}

func (w *webhookCapture) handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var p map[string]any
		json.NewDecoder(r.Body).Decode(&p)
		w.mu.Lock()
		w.payloads = append(w.payloads, p)
		w.auth = append(w.auth, r.Header.Get("Authorization"))
		w.mu.Unlock()
		rw.WriteHeader(http.StatusAccepted)
	}
}

func newDeliveryClient(t *testing.T, webhookURL string) (*Client, *config.Config) {
	t.Helper()
	cfg := config.Defaults()
	cfg.DeliveryWebhook = webhookURL
	cfg.AgentToken = "tok"
	cfg.Recipients = []string{"+15550001111"}
	cfg.ClipDir = filepath.Join(t.TempDir(), "clips")
	c := NewClient(config.NewStore(cfg))
	c.nowFn = func() time.Time { return time.Date(2026, 8, 24, 21, 0, 0, 0, time.UTC) }
	return c, cfg
}

func highDecision() decision.Decision {
	return decision.Decision{
		Risk: "high", Type: "unknown_person", Confidence: 0.8,
		Action: decision.ActionLight, Reason: "after hours",
		Subject: decision.Subject{Identity: "unknown", Description: "adult in dark jacket"},
	}
}

func TestSendPostsAlert(t *testing.T) {
	cap := &webhookCapture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	c, _ := newDeliveryClient(t, srv.URL)
	c.Send(context.Background(), "gate", "ev1", "Person at the gate.", highDecision(), policy.Context{CameraZone: "entry"})

	require.Len(t, cap.payloads, 1)
	p := cap.payloads[0]
	assert.Equal(t, true, p["deliver"])
	assert.Equal(t, "whatsapp", p["channel"])
	assert.Equal(t, "+15550001111", p["to"])
	assert.Equal(t, "frigate:alert:main:gate:ev1:+15550001111", p["sessionKey"])
	assert.Equal(t, "Bearer tok", cap.auth[0])

	msg := p["message"].(string)
	assert.Contains(t, msg, "DELIVERY MODE.")
	assert.Contains(t, msg, "MEDIA:./frigate/storage/ai-snapshots/ev1.jpg")
	assert.Contains(t, msg, "AI SECURITY ALERT")
}

func TestSendAttachesClipWhenArchived(t *testing.T) {
	cap := &webhookCapture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	c, cfg := newDeliveryClient(t, srv.URL)
	require.NoError(t, os.MkdirAll(cfg.ClipDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ClipDir, "ev1.mp4"), bytes.Repeat([]byte{1}, 2000), 0o640))

	c.Send(context.Background(), "gate", "ev1", "text", highDecision(), policy.Context{})
	require.Len(t, cap.payloads, 1)
	assert.Contains(t, cap.payloads[0]["message"], "MEDIA:./frigate/storage/ai-clips/ev1.mp4")
}

func TestSendSkipsBelowMinRisk(t *testing.T) {
	cap := &webhookCapture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	c, _ := newDeliveryClient(t, srv.URL)
	d := highDecision()
	d.Risk = "low"

	c.Send(context.Background(), "gate", "ev1", "text", d, policy.Context{})
	assert.Empty(t, cap.payloads)
}

func TestSendSkipsWhenDisabled(t *testing.T) {
	cap := &webhookCapture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	c, cfg := newDeliveryClient(t, srv.URL)
	next := cfg.Clone()
	next.DeliveryEnabled = false
	c.store.Replace(next)

	c.Send(context.Background(), "gate", "ev1", "text", highDecision(), policy.Context{})
	assert.Empty(t, cap.payloads)
}

func TestSendFansOutToAllRecipients(t *testing.T) {
	cap := &webhookCapture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()

	c, cfg := newDeliveryClient(t, srv.URL)
	next := cfg.Clone()
	next.Recipients = []string{"+1555", "+1666"}
	c.store.Replace(next)

	c.Send(context.Background(), "gate", "ev1", "text", highDecision(), policy.Context{})
	require.Len(t, cap.payloads, 2)
	assert.Equal(t, "+1555", cap.payloads[0]["to"])
	assert.Equal(t, "+1666", cap.payloads[1]["to"])
}
