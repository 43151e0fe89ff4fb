package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Reporter periodically renders a single-line status to out, rewriting it in
// place with a carriage return. It stops when the context is cancelled.
type Reporter struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer

	lastLen int
}

// NewReporter builds a reporter over t, emitting every interval to out.
func NewReporter(t *Tracker, interval time.Duration, out io.Writer) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{tracker: t, interval: interval, out: out}
}

// Run blocks, printing status lines until ctx is done. It always emits one
// final line before returning so short runs still show their counts.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.emit()
			fmt.Fprintln(r.out)
			return
		case <-ticker.C:
			r.emit()
		}
	}
}

func (r *Reporter) emit() {
	line := r.Line()
	// Pad with spaces so a shrinking line fully overwrites the previous one.
	if pad := r.lastLen - len(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	} else {
		r.lastLen = len(line)
	}
	fmt.Fprintf(r.out, "\r%s", line)
}

// Line renders the current counters as a status line.
func (r *Reporter) Line() string {
	s := r.tracker.Snapshot()
	return fmt.Sprintf("read=%d skipped=%d duplicated=%d exported=%d rate=%.1f/s peak=%.1f/s elapsed=%s",
		s.Read, s.Skipped, s.Duplicated, s.Exported, s.Rate, s.MaxRate, s.Elapsed.Truncate(time.Second))
}

// Summary renders the end-of-run report. reason describes why the run ended,
// for example "stopped by signal" or "stopped by error".
func Summary(t *Tracker, reason string) string {
	s := t.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "%s after %s\n", reason, s.Elapsed.Truncate(time.Millisecond))
	fmt.Fprintf(&b, "  read:       %d\n", s.Read)
	fmt.Fprintf(&b, "  skipped:    %d\n", s.Skipped)
	fmt.Fprintf(&b, "  duplicated: %d\n", s.Duplicated)
	fmt.Fprintf(&b, "  exported:   %d\n", s.Exported)
	fmt.Fprintf(&b, "  peak rate:  %.1f/s", s.MaxRate)
	return b.String()
}
