package gate

import (
	"context"
	"sync"
	"time"
)

// Gate is the sole admission path to the gateway call. It enforces the
// gateway's max concurrent in-flight calls and a rolling-window rate
// ceiling, serving callers strictly in arrival order.
type Gate struct {
	mu            sync.Mutex
	maxConcurrent int
	windowLimit   int
	window        time.Duration

	inflight int
	stamps   []time.Time
	waiters  []*waiter
	timer    *time.Timer
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// New creates a gate. windowLimit <= 0 disables the rolling-window ceiling.
func New(maxConcurrent, windowLimit int, window time.Duration) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Gate{
		maxConcurrent: maxConcurrent,
		windowLimit:   windowLimit,
		window:        window,
	}
}

// Acquire returns once a slot is held, or when ctx is done. Callers that
// acquired must Release exactly once.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if len(g.waiters) == 0 && g.admitLocked(time.Now()) {
		g.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.armTimerLocked(time.Now())
	g.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		if w.granted {
			// grant raced the cancellation; hand the slot back
			g.releaseLocked()
		} else {
			g.removeLocked(w)
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns a held slot.
func (g *Gate) Release() {
	g.mu.Lock()
	g.releaseLocked()
	g.mu.Unlock()
}

// InFlight reports the number of held slots.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight
}

// Waiting reports the number of queued callers.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

func (g *Gate) releaseLocked() {
	if g.inflight > 0 {
		g.inflight--
	}
	g.dispatchLocked(time.Now())
}

// admitLocked consumes a slot if both ceilings allow it.
func (g *Gate) admitLocked(now time.Time) bool {
	g.pruneLocked(now)
	if g.inflight >= g.maxConcurrent {
		return false
	}
	if g.windowLimit > 0 && len(g.stamps) >= g.windowLimit {
		return false
	}
	g.inflight++
	g.stamps = append(g.stamps, now)
	return true
}

func (g *Gate) pruneLocked(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.stamps) && !g.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.stamps = append(g.stamps[:0], g.stamps[i:]...)
	}
}

// dispatchLocked grants queued waiters in FIFO order while capacity allows.
func (g *Gate) dispatchLocked(now time.Time) {
	for len(g.waiters) > 0 && g.admitLocked(now) {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		w.granted = true
		close(w.ready)
	}
	g.armTimerLocked(now)
}

// armTimerLocked schedules a re-dispatch when waiters are blocked only by
// the rolling window, at the instant the oldest stamp leaves it.
func (g *Gate) armTimerLocked(now time.Time) {
	if len(g.waiters) == 0 || g.inflight >= g.maxConcurrent ||
		g.windowLimit <= 0 || len(g.stamps) == 0 {
		return
	}
	next := g.stamps[0].Add(g.window).Sub(now)
	if next <= 0 {
		next = time.Millisecond
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(next, func() {
		g.mu.Lock()
		g.timer = nil
		g.dispatchLocked(time.Now())
		g.mu.Unlock()
	})
}

func (g *Gate) removeLocked(w *waiter) {
	for i, cur := range g.waiters {
		if cur == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return
		}
	}
}
