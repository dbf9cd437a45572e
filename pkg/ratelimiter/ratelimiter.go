// Package ratelimiter provides a sliding-window admission gate shared by all
// workers that hit the same upstream endpoint.
package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// RateLimiter admits at most limit operations per window. Admission
// timestamps are kept in a FIFO; a full window blocks callers until the
// oldest admission expires.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu         sync.Mutex
	admissions []time.Time
}

// New creates a RateLimiter admitting limit requests per window.
func New(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Wait blocks until the caller may proceed, or until ctx is done. The
// admission is recorded before returning.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := r.tryAdmit()
		if wait == 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// tryAdmit evicts expired admissions and either records a new one (returning
// zero) or returns how long the caller must wait before retrying.
func (r *RateLimiter) tryAdmit() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.admissions) && r.admissions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		r.admissions = append(r.admissions[:0], r.admissions[i:]...)
	}

	if len(r.admissions) < r.limit {
		r.admissions = append(r.admissions, now)
		return 0
	}
	return r.admissions[0].Add(r.window).Sub(now)
}

// AdvancePast pushes the window forward so that no admission happens before
// now+d. Used when the upstream answers 429 with a retry-after hint: the
// server's view of the window wins over ours.
func (r *RateLimiter) AdvancePast(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Fill the window with admissions that expire at now+d.
	stamp := r.now().Add(d).Add(-r.window)
	r.admissions = r.admissions[:0]
	for i := 0; i < r.limit; i++ {
		r.admissions = append(r.admissions, stamp)
	}
}

// Pending returns the number of admissions currently inside the window.
func (r *RateLimiter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.window)
	n := 0
	for _, a := range r.admissions {
		if !a.Before(cutoff) {
			n++
		}
	}
	return n
}
