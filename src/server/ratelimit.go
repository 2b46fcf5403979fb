package server

import (
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Sliding-window request limiter, per client IP. Each check prunes the
// expired timestamps of the IP it checks; entries of other IPs are left as
// they are and no IP is ever removed from the map.
// -----------------------------------------------------------------------------

type rateLimiter struct {
	mu     sync.Mutex
	window int64 // ms
	max    int
	hits   map[string][]int64
}

// -----------------------------------------------------------------------------

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	return &rateLimiter{
		window: window.Milliseconds(),
		max:    max,
		hits:   make(map[string][]int64),
	}
}

// -----------------------------------------------------------------------------

// Allow records one request for ip at now and reports whether it stays
// within the window budget.
func (r *rateLimiter) Allow(ip string, now int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now - r.window

	kept := r.hits[ip][:0]
	for _, ts := range r.hits[ip] {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= r.max {
		r.hits[ip] = kept
		return false
	}

	r.hits[ip] = append(kept, now)
	return true
}
