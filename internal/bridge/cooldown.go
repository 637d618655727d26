package bridge

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CooldownGate enforces the minimum gap between alerts per camera. Bounded
// LRU so a camera rename or a flood of unknown cameras cannot grow it.
type CooldownGate struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
	nowFn func() time.Time
}

func NewCooldownGate(maxCameras int) *CooldownGate {
	if maxCameras <= 0 {
		maxCameras = 256
	}
	c, _ := lru.New[string, time.Time](maxCameras)
	return &CooldownGate{cache: c, nowFn: time.Now}
}

// OnCooldown is a check-and-set: a camera outside the window is recorded as
// alerting now and passes. An event exactly at the window boundary passes.
func (g *CooldownGate) OnCooldown(camera string, cooldown time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	if last, ok := g.cache.Get(camera); ok && now.Sub(last) < cooldown {
		return true
	}
	g.cache.Add(camera, now)
	return false
}
