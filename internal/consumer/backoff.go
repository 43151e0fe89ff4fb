package consumer

import (
	"context"
	"time"
)

// backoff implements bounded exponential delays for transient source errors
// with a ceiling on consecutive failures. It resets whenever a batch is
// delivered successfully.
type backoff struct {
	base     time.Duration
	max      time.Duration
	maxTries int
	attempt  int
	failures int
}

func newBackoff(base, max time.Duration, maxTries int) *backoff {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if maxTries <= 0 {
		maxTries = 10
	}
	return &backoff{base: base, max: max, maxTries: maxTries}
}

func (b *backoff) reset() {
	b.attempt = 0
	b.failures = 0
}

// fail records one more consecutive failure and reports whether the retry
// budget is exhausted.
func (b *backoff) fail() bool {
	b.failures++
	return b.failures >= b.maxTries
}

// next returns the delay for the current attempt and advances the counter.
func (b *backoff) next() time.Duration {
	d := b.base << uint(b.attempt)
	if d >= b.max || d <= 0 {
		d = b.max
	} else {
		b.attempt++
	}
	return d
}

// wait sleeps for the next delay or returns early when ctx is cancelled.
func (b *backoff) wait(ctx context.Context) error {
	t := time.NewTimer(b.next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
