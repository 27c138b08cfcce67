package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// WindowLimiter is a per-client fixed one-minute window counter.
//
// Each client owns one atomic word packing (windowMinute<<32 | count); all
// updates are compare-and-swap, no mutex is taken on the request path.
//
// Goroutines that see a stale window race one CAS to reset it; losers start
// over. A counter evicted by the janitor while a request is resetting it
// loses that request, so counts right after a rollover may be slightly low.
// This is accepted.
type WindowLimiter struct {
	counters     sync.Map // clientID -> *atomic.Uint64
	limit        uint32
	cleanupEvery time.Duration
	now          func() time.Time
}

type LimiterOption func(*WindowLimiter)

// WithCleanupEvery sets the janitor period. Zero disables the janitor.
func WithCleanupEvery(d time.Duration) LimiterOption {
	return func(l *WindowLimiter) { l.cleanupEvery = d }
}

// WithClock overrides the clock the janitor uses
func WithClock(now func() time.Time) LimiterOption {
	return func(l *WindowLimiter) { l.now = now }
}

func NewWindowLimiter(limitPerMinute int, opts ...LimiterOption) *WindowLimiter {
	if limitPerMinute < 1 {
		limitPerMinute = 1
	}
	l := &WindowLimiter{
		limit:        uint32(limitPerMinute),
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func pack(minute uint64, count uint32) uint64 {
	return minute<<32 | uint64(count)
}

func unpack(v uint64) (uint64, uint32) {
	return v >> 32, uint32(v)
}

func minuteOf(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s/60) & 0xFFFFFFFF
}

// Allow counts one request for clientID and reports whether it fits the window
func (l *WindowLimiter) Allow(clientID string, now time.Time) bool {
	minute := minuteOf(now)

	for {
		c := l.counter(clientID, minute)

		cur := c.Load()
		win, _ := unpack(cur)
		if win < minute {
			if c.CompareAndSwap(cur, pack(minute, 1)) {
				return true
			}
			// Lost the reset; look the counter up again.
			continue
		}

		for {
			win, count := unpack(cur)
			if win < minute {
				break
			}
			if count >= l.limit {
				return false
			}
			if c.CompareAndSwap(cur, pack(win, count+1)) {
				return true
			}
			cur = c.Load()
		}
	}
}

func (l *WindowLimiter) counter(clientID string, minute uint64) *atomic.Uint64 {
	if v, ok := l.counters.Load(clientID); ok {
		return v.(*atomic.Uint64)
	}
	fresh := new(atomic.Uint64)
	fresh.Store(pack(minute, 0))
	v, _ := l.counters.LoadOrStore(clientID, fresh)
	return v.(*atomic.Uint64)
}

// Count returns the number of requests counted for clientID in the window containing now
func (l *WindowLimiter) Count(clientID string, now time.Time) int {
	v, ok := l.counters.Load(clientID)
	if !ok {
		return 0
	}
	win, count := unpack(v.(*atomic.Uint64).Load())
	if win != minuteOf(now) {
		return 0
	}
	return int(count)
}

// Len returns the number of tracked clients
func (l *WindowLimiter) Len() int {
	n := 0
	l.counters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Cleanup evicts clients whose window is older than the previous minute
func (l *WindowLimiter) Cleanup() {
	current := minuteOf(l.now())
	l.counters.Range(func(key, value any) bool {
		win, _ := unpack(value.(*atomic.Uint64).Load())
		if win+1 < current {
			l.counters.CompareAndDelete(key, value)
		}
		return true
	})
}

// StartJanitor runs Cleanup periodically until ctx is done
func (l *WindowLimiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}
