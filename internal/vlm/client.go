package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/technosupport/ts-sentinel/internal/config"
	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/metrics"
	"github.com/technosupport/ts-sentinel/internal/policy"
)

// webhookWait is how long the agent has to write its analysis reply.
const webhookWait = 120 * time.Second

// Request carries everything one analysis pass needs.
type Request struct {
	Camera        string
	EventID       string
	Snapshot      []byte // raw JPEG for the direct model path
	StagedAbsPath string // absolute path the agent's image tool can open
	StagedRelPath string // workspace-relative path for MEDIA lines
	Policy        policy.Context
	RecentSummary string
}

// Client runs vision analysis: local model first, then the agent webhook,
// then the fallback webhook. All three produce raw text for the decision
// parser.
type Client struct {
	store   *config.Store
	webhook *http.Client
	ollama  *http.Client
}

func NewClient(store *config.Store) *Client {
	return &Client{
		store:   store,
		webhook: &http.Client{Timeout: 30 * time.Second},
		// Local VLM inference on modest hardware can take minutes.
		ollama: &http.Client{Timeout: 300 * time.Second},
	}
}

// Analyze runs the first analysis pass and returns the raw model text.
// Never returns empty text without an error.
func (c *Client) Analyze(ctx context.Context, req Request) (string, error) {
	cfg := c.store.Current()

	if cfg.OllamaAPI != "" && len(req.Snapshot) > 0 {
		text, err := c.analyzeDirect(ctx, cfg, req)
		if err == nil && usableReply(text) {
			log.Printf("VLM: direct model answered for event %s (%d chars)", req.EventID, len(text))
			metrics.RecordAnalysis("direct", "ok")
			return text, nil
		}
		metrics.RecordAnalysis("direct", "error")
		if err != nil {
			log.Printf("[WARN] VLM: direct model failed for event %s: %v", req.EventID, err)
		} else {
			log.Printf("[WARN] VLM: direct model reply unusable for event %s, trying agent", req.EventID)
		}
	}

	sessionKey := fmt.Sprintf("frigate:%s:%s", req.Camera, req.EventID)
	prompt := agentPrompt(req.Camera, req.StagedAbsPath, req.StagedRelPath, req.Policy, req.RecentSummary)

	text, err := c.askAgent(ctx, cfg.AnalysisWebhook, cfg.AnalysisModel, sessionKey, prompt, cfg)
	if err == nil {
		metrics.RecordAnalysis("agent", "ok")
		return text, nil
	}
	metrics.RecordAnalysis("agent", "error")
	log.Printf("[WARN] VLM: primary agent failed for event %s: %v — trying fallback", req.EventID, err)

	if cfg.AnalysisWebhookFallback == "" {
		return "", err
	}
	text, ferr := c.askAgent(ctx, cfg.AnalysisWebhookFallback, cfg.AnalysisModelFallback, sessionKey+":fallback", prompt, cfg)
	if ferr != nil {
		metrics.RecordAnalysis("fallback", "error")
		return "", errors.Join(err, ferr)
	}
	metrics.RecordAnalysis("fallback", "ok")
	return text, nil
}

// Confirm runs the second-look pass against a fresh snapshot and returns the
// raw text carrying the CONFIRM_JSON line. Agent path only; the confirmation
// contract needs the agent's image tool. When the primary yields no
// transcript, the fallback webhook + model gets one retry with a :fallback
// suffixed key, same as the first pass.
func (c *Client) Confirm(ctx context.Context, req Request, initial decision.Decision) (string, error) {
	cfg := c.store.Current()
	sessionKey := fmt.Sprintf("frigate:%s:%s-confirm", req.Camera, req.EventID)
	prompt := confirmPrompt(req.Camera, req.StagedAbsPath, req.StagedRelPath, initial, req.Policy, req.RecentSummary)

	text, err := c.askAgent(ctx, cfg.AnalysisWebhook, cfg.AnalysisModel, sessionKey, prompt, cfg)
	if err == nil {
		return text, nil
	}
	if cfg.AnalysisWebhookFallback == "" || cfg.AnalysisModelFallback == "" {
		return "", err
	}
	log.Printf("[WARN] VLM: confirm primary agent failed for event %s: %v — trying fallback", req.EventID, err)
	text, ferr := c.askAgent(ctx, cfg.AnalysisWebhookFallback, cfg.AnalysisModelFallback, sessionKey+":fallback", prompt, cfg)
	if ferr != nil {
		return "", errors.Join(err, ferr)
	}
	return text, nil
}

// analyzeDirect posts the snapshot to the local model's generate endpoint.
func (c *Client) analyzeDirect(ctx context.Context, cfg *config.Config, req Request) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":  cfg.OllamaModel,
		"prompt": directPrompt(req.Camera, req.Policy),
		"images": []string{base64.StdEncoding.EncodeToString(req.Snapshot)},
		"stream": false,
		"options": map[string]any{
			"num_predict": 350,
			"temperature": 0.1,
		},
	})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(cfg.OllamaAPI, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.ollama.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("generate returned %d", resp.StatusCode)
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("generate decode: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

// askAgent posts the prompt to an agent webhook and waits for the reply in
// the session transcript. The webhook ack is not the answer.
func (c *Client) askAgent(ctx context.Context, webhookURL, model, sessionKey, prompt string, cfg *config.Config) (string, error) {
	if webhookURL == "" {
		return "", errors.New("vlm: no agent webhook configured")
	}
	payload, err := json.Marshal(map[string]any{
		"message":        prompt,
		"model":          model,
		"deliver":        false,
		"sessionKey":     sessionKey,
		"timeoutSeconds": int(webhookWait / time.Second),
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.AgentToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.AgentToken)
	}

	resp, err := c.webhook.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("webhook %s: %w", webhookURL, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("webhook %s returned %d", webhookURL, resp.StatusCode)
	}

	reader := NewSessionReader(cfg.SessionsDir(), cfg.SessionsIndex(), cfg.AnalysisAgentName)
	text, err := reader.WaitForReply(ctx, sessionKey, time.Now().Add(webhookWait))
	if err != nil {
		return "", err
	}
	if !usableReply(text) {
		return "", fmt.Errorf("vlm: agent reply unusable (key=%s)", sessionKey)
	}
	return text, nil
}

// usableReply rejects empty or refusal-style replies that carry no analysis.
func usableReply(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < 10 {
		return false
	}
	lower := strings.ToLower(t)
	for _, refusal := range []string{"i cannot analyze", "i can't analyze", "unable to view", "cannot view the image"} {
		if strings.Contains(lower, refusal) && !strings.Contains(lower, `"risk"`) {
			return false
		}
	}
	return true
}
