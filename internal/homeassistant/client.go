package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client is the REST accessor for the home-automation hub.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// GetState reads one entity state. Callers supply their own default when
// the hub is unreachable.
func (c *Client) GetState(ctx context.Context, entityID string) (string, error) {
	url := fmt.Sprintf("%s/api/states/%s", c.baseURL, entityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("state read %s: %w", entityID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("state read %s returned %d", entityID, resp.StatusCode)
	}

	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("state read %s: %w", entityID, err)
	}
	return strings.TrimSpace(body.State), nil
}

// CallService invokes a hub service. One retry after a short pause; hub
// calls are side effects and the second attempt usually survives a blip.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	url := fmt.Sprintf("%s/api/services/%s/%s", c.baseURL, domain, service)
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal service data: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		c.setHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("[WARN] HA: service %s/%s failed: %v (attempt %d)", domain, service, err, attempt)
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
				log.Printf("HA: service %s/%s OK (attempt %d)", domain, service, attempt)
				return nil
			}
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			log.Printf("[WARN] HA: service %s/%s returned %d (attempt %d)", domain, service, resp.StatusCode, attempt)
		}

		if attempt == 1 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("service %s/%s: %w", domain, service, lastErr)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
}
