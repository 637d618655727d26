package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/metrics"
	"github.com/technosupport/ts-sentinel/internal/policy"
)

const forwardInstruction = "DELIVERY MODE. Forward the EXACT message below to WhatsApp verbatim. " +
	"Do not rewrite or add anything. Preserve all formatting:\n\n"

// Client ships formatted alerts to recipients through the delivery agent
// webhook. Delivery is best-effort; a failed send never blocks the pipeline.
type Client struct {
	store *config.Store
	http  *http.Client
	nowFn func() time.Time
}

func NewClient(store *config.Store) *Client {
	return &Client{
		store: store,
		http:  &http.Client{Timeout: 60 * time.Second},
		nowFn: time.Now,
	}
}

// Send formats and delivers the alert to every configured recipient. Events
// below the configured minimum risk are skipped.
func (c *Client) Send(ctx context.Context, camera, eventID, analysisText string, d decision.Decision, pol policy.Context) {
	cfg := c.store.Current()

	if !cfg.DeliveryEnabled {
		log.Printf("Delivery: disabled by config; skipping %s", eventID)
		return
	}
	minRisk := strings.ToLower(cfg.DeliveryMinRisk)
	if !decision.ValidRisk(minRisk) {
		minRisk = decision.RiskMedium
	}
	if !decision.RiskAtLeast(strings.ToLower(d.Risk), minRisk) {
		log.Printf("Delivery: skipping %s — risk=%s below minimum %s", eventID, d.Risk, minRisk)
		return
	}
	if len(cfg.Recipients) == 0 {
		log.Printf("[WARN] Delivery: no recipients configured; skipping %s", eventID)
		return
	}

	// Snapshot media at the top, formatted text, clip at the bottom when
	// the archive already has it.
	snapshotMedia := fmt.Sprintf("MEDIA:%s/%s.jpg", strings.TrimRight(cfg.MediaRelSnaps, "/"), eventID)
	text := FormatAlert(cfg, camera, eventID, analysisText, d, pol, c.nowFn())

	clipLine := ""
	if info, err := os.Stat(cfg.ClipDir + "/" + eventID + ".mp4"); err == nil && info.Size() > 1000 {
		clipLine = fmt.Sprintf("\nMEDIA:%s/%s.mp4", strings.TrimRight(cfg.MediaRelClips, "/"), eventID)
		log.Printf("Delivery: clip found for %s (%d bytes) — attaching to alert", eventID, info.Size())
	}

	message := snapshotMedia + "\n" + text + clipLine

	for _, recipient := range cfg.Recipients {
		if err := c.post(ctx, cfg, camera, eventID, recipient, forwardInstruction+message); err != nil {
			log.Printf("[ERROR] Delivery: alert to %s failed: %v", recipient, err)
			metrics.RecordDelivery("error")
		} else {
			log.Printf("Delivery: alert accepted for %s%s", recipient, clipSuffix(clipLine))
			metrics.RecordDelivery("ok")
		}
	}
}

func (c *Client) post(ctx context.Context, cfg *config.Config, camera, eventID, recipient, message string) error {
	payload, err := json.Marshal(map[string]any{
		"message":        message,
		"deliver":        true,
		"channel":        "whatsapp",
		"to":             recipient,
		"name":           "Frigate",
		"sessionKey":     fmt.Sprintf("frigate:alert:%s:%s:%s:%s", cfg.DeliveryAgentName, camera, eventID, recipient),
		"timeoutSeconds": 60,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.DeliveryWebhook, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.AgentToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AgentToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, body)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func clipSuffix(clipLine string) string {
	if clipLine != "" {
		return " [+clip]"
	}
	return ""
}
