package classify

import (
	"context"
	"sync"
	"time"
)

// RateWindow caps calls at max per sliding interval. Unlike a token bucket
// it tracks actual call timestamps, so a caller blocks until the oldest
// call in the window ages out rather than until tokens refill.
type RateWindow struct {
	mu       sync.Mutex
	max      int
	interval time.Duration
	calls    []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateWindow returns a window allowing max calls per minute. A max of
// zero or less disables limiting.
func NewRateWindow(max int) *RateWindow {
	return &RateWindow{
		max:      max,
		interval: time.Minute,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until a call slot is available or ctx is done. On success the
// call is recorded in the window.
func (w *RateWindow) Wait(ctx context.Context) error {
	if w.max <= 0 {
		return ctx.Err()
	}

	for {
		w.mu.Lock()
		now := w.now()
		w.prune(now)
		if len(w.calls) < w.max {
			w.calls = append(w.calls, now)
			w.mu.Unlock()
			return nil
		}
		wait := w.interval - now.Sub(w.calls[0]) + time.Second
		w.mu.Unlock()

		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (w *RateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.interval)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = w.calls[i:]
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
