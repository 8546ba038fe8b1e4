package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalBucket keeps one in-process limiter per subject. It is used when the
// API runs without Redis, so limits are per replica. A subject idle for a
// full window has refilled its bucket and is dropped.
type LocalBucket struct {
	mu        sync.Mutex
	limiters  map[string]*localEntry
	every     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type localEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewLocalBucket(opts Options) (*LocalBucket, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &LocalBucket{
		limiters: make(map[string]*localEntry),
		every:    rate.Limit(float64(opts.Capacity) / opts.Window.Seconds()),
		burst:    opts.Capacity,
		idle:     opts.Window,
		now:      time.Now,
	}, nil
}

func (b *LocalBucket) limiter(subject string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sweep(now)
	entry, ok := b.limiters[subject]
	if !ok {
		entry = &localEntry{lim: rate.NewLimiter(b.every, b.burst)}
		b.limiters[subject] = entry
	}
	entry.lastSeen = now
	return entry.lim
}

// sweep runs at most once per idle period; callers hold mu.
func (b *LocalBucket) sweep(now time.Time) {
	if now.Sub(b.lastSweep) < b.idle {
		return
	}
	b.lastSweep = now
	for subject, entry := range b.limiters {
		if now.Sub(entry.lastSeen) >= b.idle {
			delete(b.limiters, subject)
		}
	}
}

// Len reports how many subjects are tracked.
func (b *LocalBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.limiters)
}

func (b *LocalBucket) Allow(_ context.Context, subject string) (Decision, error) {
	now := b.now()
	lim := b.limiter(normalizeSubject(subject), now)

	if lim.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: int64(lim.TokensAt(now))}, nil
	}

	r := lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return Decision{Allowed: false, Remaining: 0, RetryAfter: wait}, nil
}
