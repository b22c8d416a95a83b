package api

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryThrottle is a per-process sliding-window failure counter for
// single-instance deployments without Redis.
type MemoryThrottle struct {
	mu      sync.Mutex
	windows map[string]*failWindow
	now     func() time.Time

	// lastSweep is when idle windows were last evicted.
	lastSweep time.Time

	userMax    int
	userWindow time.Duration
	ipMax      int
	ipWindow   time.Duration
}

type failWindow struct {
	events []time.Time
	limit  int
	window time.Duration
}

// prune drops events older than the window ending at now.
func (w *failWindow) prune(now time.Time) {
	cut := now.Add(-w.window)
	dst := w.events[:0]
	for _, t := range w.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	w.events = dst
}

// NewMemoryThrottle builds a throttle using cfg's limits. now may be nil.
func NewMemoryThrottle(cfg Config, now func() time.Time) *MemoryThrottle {
	if now == nil {
		now = time.Now
	}
	return &MemoryThrottle{
		windows:    map[string]*failWindow{},
		now:        now,
		lastSweep:  now(),
		userMax:    cfg.LoginUserMax,
		userWindow: cfg.LoginUserWindow,
		ipMax:      cfg.LoginIPMax,
		ipWindow:   cfg.LoginIPWindow,
	}
}

// sweep evicts windows whose newest event has aged out. It runs at most
// once per longest window, so each Fail stays amortized O(1).
func (t *MemoryThrottle) sweep(now time.Time) {
	if now.Sub(t.lastSweep) < max(t.userWindow, t.ipWindow) {
		return
	}
	t.lastSweep = now
	for key, w := range t.windows {
		if n := len(w.events); n == 0 || !w.events[n-1].After(now.Add(-w.window)) {
			delete(t.windows, key)
		}
	}
}

func (t *MemoryThrottle) keys(k ThrottleKeys) []counter {
	var out []counter
	if t.userMax > 0 && k.Username != "" {
		out = append(out, counter{key: userKey(k), max: int64(t.userMax), window: t.userWindow})
	}
	if t.ipMax > 0 && k.IP != "" {
		out = append(out, counter{key: "ip:" + k.IP, max: int64(t.ipMax), window: t.ipWindow})
	}
	return out
}

func userKey(k ThrottleKeys) string { return fmt.Sprintf("user:%s:%s", k.Tenant, k.Username) }

func (t *MemoryThrottle) Blocked(_ context.Context, k ThrottleKeys) (bool, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, c := range t.keys(k) {
		w, ok := t.windows[c.key]
		if !ok {
			continue
		}
		w.prune(now)
		if len(w.events) == 0 {
			delete(t.windows, c.key)
			continue
		}
		if len(w.events) >= w.limit {
			return true, w.events[0].Add(w.window).Sub(now), nil
		}
	}
	return false, 0, nil
}

func (t *MemoryThrottle) Fail(_ context.Context, k ThrottleKeys) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweep(now)
	for _, c := range t.keys(k) {
		w, ok := t.windows[c.key]
		if !ok {
			w = &failWindow{events: make([]time.Time, 0, c.max), limit: int(c.max), window: c.window}
			t.windows[c.key] = w
		}
		w.prune(now)
		w.events = append(w.events, now)
	}
	return nil
}

func (t *MemoryThrottle) Reset(_ context.Context, k ThrottleKeys) error {
	t.mu.Lock()
	delete(t.windows, userKey(k))
	t.mu.Unlock()
	return nil
}
