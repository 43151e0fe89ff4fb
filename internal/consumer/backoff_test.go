package consumer

import (
	"context"
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := newBackoff(10*time.Millisecond, 40*time.Millisecond, 0)
	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.next(); got != w {
			t.Fatalf("delay[%d] = %v, want %v", i, got, w)
		}
	}
	b.reset()
	if got := b.next(); got != 10*time.Millisecond {
		t.Fatalf("delay after reset = %v, want 10ms", got)
	}
}

func TestBackoffExhaustsAfterMaxTries(t *testing.T) {
	b := newBackoff(time.Millisecond, time.Millisecond, 3)
	for i := 0; i < 2; i++ {
		if b.fail() {
			t.Fatalf("exhausted after %d failures, budget is 3", i+1)
		}
	}
	if !b.fail() {
		t.Fatal("third failure should exhaust the budget")
	}

	// a delivered batch restores the full budget
	b.reset()
	if b.fail() {
		t.Fatal("failure count should reset with the delay")
	}
}

func TestBackoffWaitCancelled(t *testing.T) {
	b := newBackoff(time.Hour, time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.wait(ctx); err == nil {
		t.Fatal("wait should return the context error")
	}
}
