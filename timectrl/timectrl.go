// Package timectrl drives fixed-interval work such as the update_game poll.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the poll cadence of the game client.
const DefaultInterval = time.Second

// Listener is invoked once per tick with the tick number (starting at 1) and
// the wall-clock time the tick fired.
type Listener func(ctx context.Context, tick uint64, at time.Time)

// Ticker fires its listeners at a fixed interval until the context passed
// to Start is cancelled or the optional tick limit is reached.
type Ticker struct {
	mu       sync.RWMutex
	Interval time.Duration

	ticks     uint64
	lastTick  time.Time
	listeners []Listener
}

// NewTicker constructs a ticker; a non-positive interval selects
// DefaultInterval.
func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{Interval: interval}
}

// AddListener registers fn. Listeners run sequentially on the ticker's
// goroutine in registration order, so a slow listener delays the next one.
func (t *Ticker) AddListener(fn Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Ticks returns the number of ticks fired so far.
func (t *Ticker) Ticks() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ticks
}

// LastTick returns when the most recent tick fired, or the zero time.
func (t *Ticker) LastTick() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastTick
}

// Start runs the ticker in a separate goroutine. When limit > 0 it stops
// after that many ticks. The returned channel is closed when it stops.
func (t *Ticker) Start(ctx context.Context, limit uint64) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t.mu.Lock()
				t.ticks++
				n := t.ticks
				t.lastTick = now
				listeners := make([]Listener, len(t.listeners))
				copy(listeners, t.listeners)
				t.mu.Unlock()

				for _, fn := range listeners {
					fn(ctx, n, now)
				}
				if limit > 0 && n >= limit {
					return
				}
			}
		}
	}()
	return done
}
