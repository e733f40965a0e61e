package api

import (
	"sync"
	"time"
)

// RateLimiter is a per-key sliding-window limiter. A non-positive limit
// disables it.
type RateLimiter struct {
	mu        sync.Mutex
	requests  map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a request for key and reports whether it is within limit.
func (r *RateLimiter) Allow(key string) bool {
	if r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	if now.Sub(r.lastSweep) > r.window {
		r.evict(cutoff)
		r.lastSweep = now
	}

	recent := fresh(r.requests[key], cutoff)
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// evict drops keys with no requests inside the window.
func (r *RateLimiter) evict(cutoff time.Time) {
	for key, times := range r.requests {
		if recent := fresh(times, cutoff); len(recent) == 0 {
			delete(r.requests, key)
		} else {
			r.requests[key] = recent
		}
	}
}

func fresh(times []time.Time, cutoff time.Time) []time.Time {
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
