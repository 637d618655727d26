package config

import "sync/atomic"

// Store holds the current immutable Config snapshot. Readers get a
// consistent view for the duration of one event; reloads swap the pointer.
type Store struct {
	cur atomic.Pointer[Config]
}

func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.cur.Store(cfg)
	return s
}

// Current returns the live snapshot. Callers must not mutate it.
func (s *Store) Current() *Config {
	return s.cur.Load()
}

// Replace publishes a new snapshot. In-flight events keep the old one.
func (s *Store) Replace(cfg *Config) {
	s.cur.Store(cfg)
}
