package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newWithClock(t *testing.T, rate float64, period time.Duration, burst int) (*Limiter, *fakeClock) {
	t.Helper()
	l, err := New(rate, period, burst, time.Millisecond)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l.now = clk.now
	return l, clk
}

func TestNewRejectsInvalidParams(t *testing.T) {
	cases := []struct {
		rate   float64
		period time.Duration
		burst  int
	}{
		{0, time.Second, 1},
		{1, 0, 1},
		{1, time.Second, 0},
		{-1, time.Second, 1},
	}
	for _, c := range cases {
		if _, err := New(c.rate, c.period, c.burst, 0); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("New(%v,%v,%v): expected ErrInvalidParams, got %v", c.rate, c.period, c.burst, err)
		}
	}
}

func TestBurstThenEmpty(t *testing.T) {
	l, _ := newWithClock(t, 30, time.Minute, 10)
	for i := 0; i < 10; i++ {
		if !l.TryAcquire() {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if l.TryAcquire() {
		t.Fatalf("11th acquire should fail")
	}
}

func TestRefillIsContinuousAndCapped(t *testing.T) {
	l, clk := newWithClock(t, 30, time.Minute, 10)
	for i := 0; i < 10; i++ {
		l.TryAcquire()
	}

	// 0.5 tokens/s: one token needs two seconds
	clk.advance(time.Second)
	if l.TryAcquire() {
		t.Fatalf("half a token must not be enough")
	}
	clk.advance(time.Second)
	if !l.TryAcquire() {
		t.Fatalf("expected a token after two seconds")
	}

	clk.advance(time.Hour)
	if got := l.Tokens(); got != 10 {
		t.Fatalf("tokens must be capped at burst, got %v", got)
	}
}

func TestLongRunRate(t *testing.T) {
	l, clk := newWithClock(t, 30, time.Minute, 10)
	granted := 0
	// ten simulated minutes sampled every 100ms
	for i := 0; i < 6000; i++ {
		if l.TryAcquire() {
			granted++
		}
		clk.advance(100 * time.Millisecond)
	}
	// 10 burst + 30/min * 10min
	if granted < 305 || granted > 311 {
		t.Fatalf("granted %d, expected about 310", granted)
	}
}

func TestAcquireZeroTimeoutIsTry(t *testing.T) {
	l, _ := newWithClock(t, 1, time.Hour, 1)
	if !l.Acquire(context.Background(), 0) {
		t.Fatalf("first acquire should succeed")
	}
	start := time.Now()
	if l.Acquire(context.Background(), 0) {
		t.Fatalf("empty bucket with zero timeout should fail")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("zero timeout must not block")
	}
}

func TestAcquireWaitsForRefill(t *testing.T) {
	l, err := New(1, 50*time.Millisecond, 1, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !l.TryAcquire() {
		t.Fatalf("first acquire should succeed")
	}
	if !l.Acquire(context.Background(), time.Second) {
		t.Fatalf("expected acquire to succeed after refill")
	}
}

func TestAcquireTimesOut(t *testing.T) {
	l, err := New(1, time.Hour, 1, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.TryAcquire()
	start := time.Now()
	if l.Acquire(context.Background(), 30*time.Millisecond) {
		t.Fatalf("expected timeout")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond || elapsed > time.Second {
		t.Fatalf("unexpected wait %v", elapsed)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	l, err := New(1, time.Hour, 1, time.Second)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.TryAcquire()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	if l.Acquire(ctx, time.Minute) {
		t.Fatalf("expected failure on cancelled context")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("acquire did not return promptly on cancel")
	}
}
