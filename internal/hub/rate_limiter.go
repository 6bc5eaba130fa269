package hub

import (
	"sync"
	"time"
)

// RateLimiter implements per-connection fixed-window rate limiting
// ARCHITECTURAL DISCOVERY: Per-client state tracking with explicit Forget on
// leave and a periodic Cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
	now     func() time.Time
}

// clientWindow tracks rate limiting for a single connection
type clientWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows at most limit events per window for each connection.
// A limit of zero or less disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Enabled reports whether the limiter restricts anything.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.limit > 0
}

// Allow records one event for connID and reports whether it fits the window.
func (rl *RateLimiter) Allow(connID string) bool {
	if !rl.Enabled() {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	w, exists := rl.clients[connID]
	if !exists {
		// FUNCTIONAL DISCOVERY: First event always allowed, initialize tracking
		rl.clients[connID] = &clientWindow{count: 1, windowStart: now}
		return true
	}

	if now.Sub(w.windowStart) >= rl.window {
		w.count = 1
		w.windowStart = now
		return true
	}

	if w.count >= rl.limit {
		return false
	}

	w.count++
	return true
}

// Forget drops all state for connID.
func (rl *RateLimiter) Forget(connID string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, connID)
}

// Cleanup removes windows idle for more than five window lengths and returns
// how many were removed.
func (rl *RateLimiter) Cleanup() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for connID, w := range rl.clients {
		if now.Sub(w.windowStart) > 5*rl.window {
			delete(rl.clients, connID)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of connections with live window state.
func (rl *RateLimiter) Tracked() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
