package vlm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrNoReply means the agent never wrote an assistant message to the session
// transcript before the deadline.
var ErrNoReply = errors.New("vlm: no agent reply before deadline")

// SessionReader resolves async agent replies. The agent acks the webhook
// immediately and streams its answer into a per-session JSONL transcript;
// the index file maps session keys to session ids.
type SessionReader struct {
	dir       string
	indexPath string
	agent     string
}

func NewSessionReader(dir, indexPath, agent string) *SessionReader {
	return &SessionReader{dir: dir, indexPath: indexPath, agent: agent}
}

// WaitForReply polls the transcript once a second until the last assistant
// message appears or the deadline passes.
func (s *SessionReader) WaitForReply(ctx context.Context, sessionKey string, deadline time.Time) (string, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if text, ok := s.tryRead(sessionKey); ok {
			return text, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w (key=%s)", ErrNoReply, sessionKey)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SessionReader) tryRead(sessionKey string) (string, bool) {
	id, err := s.lookupSessionID(sessionKey)
	if err != nil || id == "" {
		return "", false
	}
	text, err := lastAssistantText(s.dir + "/" + id + ".jsonl")
	if err != nil || text == "" {
		return "", false
	}
	return text, true
}

// lookupSessionID finds the session id for a key. Index keys are stored as
// agent:{agent}:{lowercased key}; values are either a bare id string or an
// object with a sessionId field.
func (s *SessionReader) lookupSessionID(sessionKey string) (string, error) {
	raw, err := os.ReadFile(s.indexPath)
	if err != nil {
		return "", err
	}
	var index map[string]json.RawMessage
	if err := json.Unmarshal(raw, &index); err != nil {
		return "", err
	}
	entry, ok := index[fmt.Sprintf("agent:%s:%s", s.agent, strings.ToLower(sessionKey))]
	if !ok {
		return "", nil
	}

	var id string
	if err := json.Unmarshal(entry, &id); err == nil {
		return id, nil
	}
	var obj struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(entry, &obj); err != nil {
		return "", err
	}
	return obj.SessionID, nil
}

type transcriptLine struct {
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// lastAssistantText returns the text of the final assistant message in a
// transcript, with MEDIA lines stripped. Malformed lines are skipped.
func lastAssistantText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var last string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var line transcriptLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		if line.Message == nil || line.Message.Role != "assistant" {
			continue
		}
		if text := contentText(line.Message.Content); text != "" {
			last = text
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return stripMediaLines(last), nil
}

// contentText flattens a message content field: either a plain string or a
// list of typed parts whose text entries get joined with newlines.
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func stripMediaLines(text string) string {
	var kept []string
	for _, ln := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(ln), "MEDIA:") {
			continue
		}
		kept = append(kept, ln)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
