package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter limits outbound typing frames per recipient
// ARCHITECTURAL DISCOVERY: One token bucket per recipient, stale buckets are
// pruned once the map grows, so a long session cannot leak limiters
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[int64]*recipientLimit
}

type recipientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	pruneThreshold = 64
	staleAfter     = 5 * time.Minute
)

// NewRateLimiter allows perSecond frames per recipient with the given burst
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[int64]*recipientLimit),
	}
}

// Allow reports whether a frame to userID may be sent at now.
// now comes from the caller's clock so tests stay deterministic.
func (rl *RateLimiter) Allow(userID int64, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.clients[userID]
	if !exists {
		if len(rl.clients) >= pruneThreshold {
			rl.cleanupLocked(now)
		}
		entry = &recipientLimit{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[userID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Cleanup drops buckets idle for more than five minutes
func (rl *RateLimiter) Cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupLocked(now)
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for userID, entry := range rl.clients {
		if now.Sub(entry.lastSeen) > staleAfter {
			delete(rl.clients, userID)
		}
	}
}

// Reset forgets every bucket
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	rl.clients = make(map[int64]*recipientLimit)
	rl.mu.Unlock()
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
