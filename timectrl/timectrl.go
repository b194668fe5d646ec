package timectrl

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Clock is the time source used by the control loops and step drivers.
// Components depend on this interface rather than the time package so tests
// can run motion and liveness logic without waiting on the wall clock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Sleep blocks for d.
	Sleep(d time.Duration)
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// FakeClock is a manually driven Clock. Sleep returns immediately after
// advancing the fake time by d.
type FakeClock struct {
	mu     sync.RWMutex
	now    time.Time
	slept  time.Duration
	sleeps int
}

// NewFakeClock returns a FakeClock positioned at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	c.sleeps++
}

// Advance moves the clock forward without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Slept returns the total duration and number of Sleep calls.
func (c *FakeClock) Slept() (time.Duration, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slept, c.sleeps
}

// Loop invokes its listeners once per Interval until the context is done.
type Loop struct {
	mu       sync.RWMutex
	Interval time.Duration

	ticks     uint64
	listeners []func(context.Context, time.Time)
}

// NewLoop constructs a loop.
func NewLoop(interval time.Duration) *Loop {
	return &Loop{Interval: interval}
}

// AddListener registers a callback invoked on every tick.
func (l *Loop) AddListener(fn func(context.Context, time.Time)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Ticks returns how many ticks have fired.
func (l *Loop) Ticks() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ticks
}

// Run blocks until ctx is cancelled, firing listeners on each tick. A listener
// that overruns the interval delays the next tick; ticks are not queued.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			l.mu.Lock()
			l.ticks++
			listeners := slices.Clone(l.listeners)
			l.mu.Unlock()

			for _, fn := range listeners {
				fn(ctx, now)
			}
		}
	}
}

// Start runs the loop in a separate goroutine. It returns a channel that is
// closed when the loop exits.
func (l *Loop) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	return done
}
