package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Row is one decided event in the JSONL memory store.
type Row struct {
	Timestamp  string  `json:"timestamp"`
	Camera     string  `json:"camera"`
	EventID    string  `json:"event_id"`
	Risk       string  `json:"risk"`
	Action     string  `json:"action"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Store is the append-only event memory. A single mutex serializes writers;
// the append-then-trim rewrite is not atomic on its own.
type Store struct {
	mu       sync.Mutex
	path     string
	maxLines int
}

func NewStore(path string, maxLines int) *Store {
	if maxLines <= 0 {
		maxLines = 5000
	}
	return &Store{path: path, maxLines: maxLines}
}

// Append writes one row and trims the file to the last maxLines lines.
func (s *Store) Append(row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.Timestamp == "" {
		row.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal history row: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	_, werr := f.Write(append(data, '\n'))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("append history row: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("close history file: %w", cerr)
	}

	return s.trimLocked()
}

// trimLocked keeps the last maxLines lines. Caller holds s.mu.
func (s *Store) trimLocked() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read history for trim: %w", err)
	}
	lines := splitLines(string(raw))
	if len(lines) <= s.maxLines {
		return nil
	}
	trimmed := strings.Join(lines[len(lines)-s.maxLines:], "\n") + "\n"
	if err := os.WriteFile(s.path, []byte(trimmed), 0o640); err != nil {
		return fmt.Errorf("rewrite history: %w", err)
	}
	return nil
}

// ReadRecent returns rows for one camera whose timestamp falls inside the
// window, oldest first. Malformed lines are skipped.
func (s *Store) ReadRecent(camera string, window time.Duration) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[WARN] History: read failed: %v", err)
		}
		return nil
	}
	defer f.Close()

	now := time.Now().UTC()
	var out []Row
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		if row.Camera != camera {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row.Timestamp)
		if err != nil {
			continue
		}
		if now.Sub(ts) <= window {
			out = append(out, row)
		}
	}
	if err := sc.Err(); err != nil {
		log.Printf("[WARN] History: scan failed: %v", err)
	}
	return out
}

// Summary builds the memory feed text the VLM prompt embeds. The caller
// short-circuits to "- disabled" when the memory flag is off.
func (s *Store) Summary(camera string, window time.Duration) string {
	rows := s.ReadRecent(camera, window)
	if len(rows) == 0 {
		return "- none in last 30 minutes"
	}

	last := rows[len(rows)-1]
	highOrCritical := 0
	for _, r := range rows {
		risk := strings.ToLower(r.Risk)
		if risk == "high" || risk == "critical" {
			highOrCritical++
		}
	}
	return fmt.Sprintf(
		"- %d events in last 30 minutes (%s)\n- last event: %s\n- high/critical count: %d\n- latest type trend: %s",
		len(rows), camera, last.Timestamp, highOrCritical, last.Type)
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	// Trailing newline produces an empty final element.
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
