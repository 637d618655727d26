package frigate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Bodies at or under this size are decoder error pages, not images.
const minValidBody = 1000

// ErrNoSnapshot means neither the snapshot nor the thumbnail endpoint
// produced a usable image.
var ErrNoSnapshot = errors.New("frigate: no valid snapshot")

// Client is the HTTP accessor for the NVR's event API.
type Client struct {
	baseURL     string
	fetchClient *http.Client
	clipClient  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		fetchClient: &http.Client{Timeout: 10 * time.Second},
		clipClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchSnapshot downloads the event snapshot, falling back to the thumbnail
// endpoint. A body of 1000 bytes or fewer is treated as missing.
func (c *Client) FetchSnapshot(ctx context.Context, eventID string) ([]byte, error) {
	for _, endpoint := range []string{"snapshot.jpg", "thumbnail.jpg"} {
		url := fmt.Sprintf("%s/api/events/%s/%s", c.baseURL, eventID, endpoint)
		body, err := c.get(ctx, c.fetchClient, url)
		if err != nil {
			log.Printf("[WARN] Frigate: fetch %s failed: %v", url, err)
			continue
		}
		if len(body) > minValidBody {
			log.Printf("Frigate: fetched %d bytes for event %s via %s", len(body), eventID, endpoint)
			return body, nil
		}
	}
	return nil, ErrNoSnapshot
}

// RetainEvent marks the event for indefinite retention so the NVR keeps the
// clip. Non-fatal for callers.
func (c *Client) RetainEvent(ctx context.Context, eventID string) error {
	url := fmt.Sprintf("%s/api/events/%s/retain", c.baseURL, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("retain request: %w", err)
	}
	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return fmt.Errorf("retain %s: %w", eventID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("retain %s returned %d", eventID, resp.StatusCode)
	}
	return nil
}

// FetchClip downloads the event clip. Clips are larger and slower than
// snapshots, so this uses the long-timeout client.
func (c *Client) FetchClip(ctx context.Context, eventID string) ([]byte, error) {
	url := fmt.Sprintf("%s/api/events/%s/clip.mp4", c.baseURL, eventID)
	body, err := c.get(ctx, c.clipClient, url)
	if err != nil {
		return nil, fmt.Errorf("clip %s: %w", eventID, err)
	}
	if len(body) <= minValidBody {
		return nil, fmt.Errorf("clip %s too small (%d bytes)", eventID, len(body))
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
