package config

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the runtime JSON file when it changes. fsnotify is the
// primary signal; a slow polling loop covers editors that replace the file
// inode and platforms where the watch silently dies.
type Watcher struct {
	store         *Store
	bootstrapPath string

	mu        sync.Mutex
	lastMtime time.Time
}

func NewWatcher(store *Store, bootstrapPath string) *Watcher {
	return &Watcher{store: store, bootstrapPath: bootstrapPath}
}

func (w *Watcher) Start(ctx context.Context) {
	path := w.store.Current().RuntimeFile

	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Printf("[WARN] Config Watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(path); err != nil {
		log.Printf("[WARN] Config Watcher: cannot watch %s (%v), falling back to polling", path, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						// Debounce: editors often fire write bursts.
						time.Sleep(100 * time.Millisecond)
						w.reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[WARN] Config Watcher: %v", err)
				}
			}
		}()
	}

	// Polling safety net, always on.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reloadIfChanged(path)
			}
		}
	}()
}

func (w *Watcher) reloadIfChanged(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	changed := info.ModTime().After(w.lastMtime)
	if changed {
		w.lastMtime = info.ModTime()
	}
	w.mu.Unlock()
	if changed {
		w.reload()
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.bootstrapPath)
	if err != nil {
		log.Printf("[ERROR] Config Watcher: reload failed: %v", err)
		return
	}
	// Masked secrets in the runtime file never reach the snapshot; carry the
	// live credentials forward when the reload produced empty ones.
	old := w.store.Current()
	if cfg.MQTTPass == "" {
		cfg.MQTTPass = old.MQTTPass
	}
	if cfg.AgentToken == "" {
		cfg.AgentToken = old.AgentToken
	}
	if cfg.HAToken == "" {
		cfg.HAToken = old.HAToken
	}
	w.store.Replace(cfg)
	log.Printf("Config Watcher: runtime config reloaded")
}
