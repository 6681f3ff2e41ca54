package router

import (
	"sync"
	"time"
)

// RateLimiter tracks per-participant send rates: 100 events per minute with
// a window that resets on expiry. Keyed by participant id rather than
// connection so a reconnect does not reset the budget.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{clients: make(map[string]*clientLimit)}
}

// Allow reports whether the participant may send another event.
func (rl *RateLimiter) Allow(participantID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	limit, exists := rl.clients[participantID]
	if !exists || now.Sub(limit.windowStart) >= time.Minute {
		rl.clients[participantID] = &clientLimit{count: 1, windowStart: now}
		return true
	}
	if limit.count >= 100 {
		return false
	}
	limit.count++
	return true
}

// Cleanup removes entries idle for over five minutes.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for id, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, id)
		}
	}
}
