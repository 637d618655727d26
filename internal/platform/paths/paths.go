package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/technosupport/ts-sentinel/internal/config"
)

// StagedMedia locates one staged snapshot three ways: the archive copy, the
// absolute workspace path the agent's image tool opens, and the
// workspace-relative path used in MEDIA lines.
type StagedMedia struct {
	ArchivePath string
	AbsPath     string
	RelPath     string
}

// EnsureDirs creates the bridge's storage tree.
func EnsureDirs(cfg *config.Config) error {
	dirs := []string{
		cfg.SnapshotDir,
		cfg.ClipDir,
		cfg.StagedMediaDir(),
		filepath.Dir(cfg.HistoryFile),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// StageSnapshot archives the snapshot and copies it into the agent workspace.
// The name suffix distinguishes the confirmation re-fetch from the original.
func StageSnapshot(cfg *config.Config, eventID, suffix string, data []byte) (StagedMedia, error) {
	name := eventID + suffix + ".jpg"

	archive, err := SafeJoin(cfg.SnapshotDir, name)
	if err != nil {
		return StagedMedia{}, err
	}
	staged, err := SafeJoin(cfg.StagedMediaDir(), name)
	if err != nil {
		return StagedMedia{}, err
	}

	for _, path := range []string{archive, staged} {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return StagedMedia{}, fmt.Errorf("create directory for %s: %w", path, err)
		}
		if err := os.WriteFile(path, data, 0640); err != nil {
			return StagedMedia{}, fmt.Errorf("write %s: %w", path, err)
		}
	}

	return StagedMedia{
		ArchivePath: archive,
		AbsPath:     staged,
		RelPath:     strings.TrimRight(cfg.MediaRelSnaps, "/") + "/" + name,
	}, nil
}

// SaveClip archives a downloaded clip and returns its paths.
func SaveClip(cfg *config.Config, eventID string, data []byte) (string, string, error) {
	name := eventID + ".mp4"
	archive, err := SafeJoin(cfg.ClipDir, name)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(filepath.Dir(archive), 0750); err != nil {
		return "", "", fmt.Errorf("create directory for %s: %w", archive, err)
	}
	if err := os.WriteFile(archive, data, 0640); err != nil {
		return "", "", fmt.Errorf("write %s: %w", archive, err)
	}
	rel := strings.TrimRight(cfg.MediaRelClips, "/") + "/" + name
	return archive, rel, nil
}

// SafeJoin joins path elements and ensures the result stays within the base
// directory. Event ids come off the wire and end up in filenames.
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) {
			return "", fmt.Errorf("path traversal attempt detected: absolute element %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if absJoined != absBase && !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}
	return absJoined, nil
}
