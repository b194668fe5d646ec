package timectrl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestFakeClockSleepAdvances(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	c.Sleep(20 * time.Millisecond)
	c.Sleep(5 * time.Millisecond)

	if got, want := c.Now(), start.Add(25*time.Millisecond); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
	total, n := c.Slept()
	if total != 25*time.Millisecond || n != 2 {
		t.Fatalf("Slept() = (%v, %d), want (25ms, 2)", total, n)
	}
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	c.Advance(42 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(42 * time.Second)) {
		t.Fatalf("Now() after Advance = %v", got)
	}
	if _, n := c.Slept(); n != 0 {
		t.Fatalf("Advance should not count as a sleep, got %d", n)
	}
}

func TestLoopRunFiresListenersUntilCancelled(t *testing.T) {
	loop := NewLoop(2 * time.Millisecond)
	var calls atomic.Int64
	loop.AddListener(func(context.Context, time.Time) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := loop.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("listener fired %d times before deadline", calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop after cancel")
	}
	if loop.Ticks() < 3 {
		t.Fatalf("Ticks() = %d, want >= 3", loop.Ticks())
	}
}

func TestLoopRunReturnsContextError(t *testing.T) {
	loop := NewLoop(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := loop.Run(ctx); err != context.Canceled {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
}

func TestLoopListenerAddedDuringTickFiresFromNextTick(t *testing.T) {
	loop := NewLoop(2 * time.Millisecond)
	var first, second atomic.Int64
	loop.AddListener(func(context.Context, time.Time) {
		if first.Add(1) == 1 {
			loop.AddListener(func(context.Context, time.Time) { second.Add(1) })
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := loop.Start(ctx)
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for second.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("late listener fired %d times before deadline", second.Load())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if f, s := first.Load(), second.Load(); s != f-1 {
		t.Fatalf("first fired %d times, second %d; want second to start one tick later", f, s)
	}
}
