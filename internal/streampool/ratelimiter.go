package streampool

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// rateLimiter is a sliding window over subscribe-request attempts across
// the whole pool (spec section 4.1 "Rate limit": no more than
// max_subscriptions_per_window in any window; excess requests sleep until
// the oldest timestamp ages out, plus jitter).
type rateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	attempts  []time.Time
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	if window <= 0 {
		window = 60 * time.Second
	}
	if max <= 0 {
		max = 30
	}
	return &rateLimiter{window: window, max: max}
}

// wait blocks until a slot in the window is available, or ctx is done.
func (r *rateLimiter) wait(ctx context.Context) error {
	for {
		d, ok := r.tryReserve()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// tryReserve either reserves a slot and returns (0, true), or reports how
// long to sleep before retrying.
func (r *rateLimiter) tryReserve() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	kept := r.attempts[:0]
	for _, t := range r.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.attempts = kept

	if len(r.attempts) < r.max {
		r.attempts = append(r.attempts, now)
		return 0, true
	}

	oldest := r.attempts[0]
	wait := oldest.Add(r.window).Sub(now) + time.Second + jitter()
	return wait, false
}

func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
}
