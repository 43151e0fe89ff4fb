package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker holds the shared lock-free counters written by the partition
// readers and the export pipeline and read by the Reporter. It never affects
// pipeline correctness.
type Tracker struct {
	read       atomic.Uint64
	skipped    atomic.Uint64
	duplicated atomic.Uint64
	exported   atomic.Uint64

	start time.Time

	mu      sync.Mutex
	maxRate float64
}

// NewTracker creates a tracker with the clock started.
func NewTracker() *Tracker {
	return &Tracker{start: time.Now()}
}

// AddRead adds n committed records to the read counter.
func (t *Tracker) AddRead(n uint64) { t.read.Add(n) }

// IncSkipped counts a record rejected by the content filter.
func (t *Tracker) IncSkipped() { t.skipped.Add(1) }

// IncDuplicated counts a redelivered record dropped by key collision.
func (t *Tracker) IncDuplicated() { t.duplicated.Add(1) }

// AddExported adds n flushed records to the exported counter.
func (t *Tracker) AddExported(n uint64) { t.exported.Add(n) }

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Read       uint64
	Skipped    uint64
	Duplicated uint64
	Exported   uint64
	Elapsed    time.Duration
	Rate       float64
	MaxRate    float64
}

// Snapshot reads the counters and updates the peak rate.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		Read:       t.read.Load(),
		Skipped:    t.skipped.Load(),
		Duplicated: t.duplicated.Load(),
		Exported:   t.exported.Load(),
		Elapsed:    time.Since(t.start),
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.Rate = float64(s.Read+s.Exported) / secs
	}
	t.mu.Lock()
	if s.Rate > t.maxRate {
		t.maxRate = s.Rate
	}
	s.MaxRate = t.maxRate
	t.mu.Unlock()
	return s
}
