package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/evtap/internal/checkpoint"
	"github.com/rzbill/evtap/internal/filter"
	"github.com/rzbill/evtap/internal/progress"
	"github.com/rzbill/evtap/internal/source"
	pebblestore "github.com/rzbill/evtap/internal/storage/pebble"
)

const testEntity = "orders"

func newTestStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return checkpoint.NewStore(db)
}

// fakeSource serves fixed per-partition event slices and honors resume
// positions the way a real log would.
type fakeSource struct {
	mu         sync.Mutex
	partitions map[string][]source.Event
	batchSize  int
	opens      map[string][]source.StartPosition
}

func newFakeSource(batchSize int) *fakeSource {
	return &fakeSource{
		partitions: map[string][]source.Event{},
		batchSize:  batchSize,
		opens:      map[string][]source.StartPosition{},
	}
}

func (f *fakeSource) add(partition string, from, to uint64, body func(uint64) string) {
	for seq := from; seq <= to; seq++ {
		f.partitions[partition] = append(f.partitions[partition], source.Event{
			SequenceNumber: seq,
			Offset:         fmt.Sprintf("o%d", seq),
			EnqueuedTime:   time.Unix(int64(seq), 0).UTC(),
			Body:           []byte(body(seq)),
		})
	}
}

func (f *fakeSource) ListPartitions(ctx context.Context, entity string) ([]string, error) {
	var ids []string
	for id := range f.partitions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSource) Validate(ctx context.Context, entity string) (int, error) {
	return len(f.partitions), nil
}

func (f *fakeSource) OpenPartition(ctx context.Context, entity, partition string, start source.StartPosition) (source.Cursor, error) {
	f.mu.Lock()
	f.opens[partition] = append(f.opens[partition], start)
	f.mu.Unlock()

	events := f.partitions[partition]
	if start.Kind == source.StartAfterSequence {
		i := 0
		for i < len(events) && events[i].SequenceNumber <= start.SequenceNumber {
			i++
		}
		events = events[i:]
	}
	return &fakeCursor{events: events, batch: f.batchSize}, nil
}

type fakeCursor struct {
	events []source.Event
	batch  int
}

func (c *fakeCursor) Next(ctx context.Context) ([]source.Event, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(c.events) == 0 {
		return nil, source.ErrPartitionEnd
	}
	n := c.batch
	if n > len(c.events) {
		n = len(c.events)
	}
	out := c.events[:n]
	c.events = c.events[n:]
	return out, nil
}

func (c *fakeCursor) Close() error { return nil }

func runReader(t *testing.T, store *checkpoint.Store, src source.Source, tracker *progress.Tracker, f *filter.Filter, ignore bool) {
	t.Helper()
	r := NewReader(ReaderOptions{
		Entity:           testEntity,
		PartitionID:      "0",
		Source:           src,
		Store:            store,
		Filter:           f,
		IgnoreCheckpoint: ignore,
		Tracker:          tracker,
	})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("reader run: %v", err)
	}
}

func TestReaderResumesAfterCheckpoint(t *testing.T) {
	store := newTestStore(t)
	tracker := progress.NewTracker()

	first := newFakeSource(16)
	first.add("0", 1, 50, func(seq uint64) string { return fmt.Sprintf("event %d", seq) })
	runReader(t, store, first, tracker, nil, false)

	cp, found, err := store.LoadCheckpoint(testEntity, "0")
	if err != nil || !found {
		t.Fatalf("checkpoint after first run: found=%v err=%v", found, err)
	}
	if cp.SequenceNumber != 50 {
		t.Fatalf("checkpoint sequence = %d, want 50", cp.SequenceNumber)
	}

	// The entity now has 100 events; the second run must resume after 50.
	second := newFakeSource(16)
	second.add("0", 1, 100, func(seq uint64) string { return fmt.Sprintf("event %d", seq) })
	runReader(t, store, second, tracker, nil, false)

	if starts := second.opens["0"]; len(starts) != 1 ||
		starts[0].Kind != source.StartAfterSequence || starts[0].SequenceNumber != 50 {
		t.Fatalf("second run start = %+v, want after sequence 50", starts)
	}

	n, err := store.CountMessages(testEntity)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 100 {
		t.Fatalf("stored records = %d, want 100", n)
	}
	if s := tracker.Snapshot(); s.Duplicated != 0 {
		t.Fatalf("duplicated = %d, want 0", s.Duplicated)
	}
}

func TestReaderIgnoreCheckpointCountsDuplicates(t *testing.T) {
	store := newTestStore(t)
	tracker := progress.NewTracker()

	src := newFakeSource(8)
	src.add("0", 1, 30, func(seq uint64) string { return fmt.Sprintf("event %d", seq) })
	runReader(t, store, src, tracker, nil, false)

	again := newFakeSource(8)
	again.add("0", 1, 30, func(seq uint64) string { return fmt.Sprintf("event %d", seq) })
	runReader(t, store, again, tracker, nil, true)

	if starts := again.opens["0"]; len(starts) != 1 || starts[0].Kind != source.StartEarliest {
		t.Fatalf("ignored run start = %+v, want earliest", starts)
	}
	s := tracker.Snapshot()
	if s.Duplicated != 30 {
		t.Fatalf("duplicated = %d, want 30", s.Duplicated)
	}
	n, _ := store.CountMessages(testEntity)
	if n != 30 {
		t.Fatalf("stored records = %d, want 30", n)
	}
}

func TestReaderFilterAdvancesCheckpoint(t *testing.T) {
	store := newTestStore(t)
	tracker := progress.NewTracker()

	f, err := filter.New([]string{"ERROR"}, "")
	if err != nil {
		t.Fatalf("filter: %v", err)
	}

	src := newFakeSource(4)
	src.add("0", 1, 10, func(seq uint64) string {
		if seq%2 == 0 {
			return fmt.Sprintf("ERROR at %d", seq)
		}
		return fmt.Sprintf("info at %d", seq)
	})
	runReader(t, store, src, tracker, f, false)

	cp, found, err := store.LoadCheckpoint(testEntity, "0")
	if err != nil || !found {
		t.Fatalf("checkpoint: found=%v err=%v", found, err)
	}
	if cp.SequenceNumber != 10 {
		t.Fatalf("checkpoint = %d, want 10 despite filtered tail", cp.SequenceNumber)
	}
	n, _ := store.CountMessages(testEntity)
	if n != 5 {
		t.Fatalf("stored records = %d, want 5", n)
	}
	if s := tracker.Snapshot(); s.Skipped != 5 || s.Read != 5 {
		t.Fatalf("counters = %+v, want skipped=5 read=5", s)
	}
	// A fresh run with the same filter resumes past the filtered events.
	again := newFakeSource(4)
	again.add("0", 1, 10, func(seq uint64) string { return "ERROR" })
	runReader(t, store, again, tracker, f, false)
	if s := tracker.Snapshot(); s.Duplicated != 0 {
		t.Fatalf("filtered events re-fetched as duplicates: %+v", s)
	}
}

func TestReaderSynthesizesEventIDs(t *testing.T) {
	store := newTestStore(t)
	src := newFakeSource(8)
	src.add("0", 7, 7, func(uint64) string { return "one" })
	runReader(t, store, src, progress.NewTracker(), nil, false)

	var got string
	err := store.ScanMessages(testEntity, func(rec *checkpoint.MessageRecord, decodeErr error) (bool, error) {
		if decodeErr != nil {
			return false, decodeErr
		}
		got = rec.EventID
		return true, nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if want := checkpoint.SynthEventID("0", 7); got != want {
		t.Fatalf("event id = %q, want %q", got, want)
	}
}

// errorSource delivers one batch then fails fatally on partition "0" and
// blocks forever on partition "1".
type errorSource struct {
	fatal error
}

func (s *errorSource) ListPartitions(ctx context.Context, entity string) ([]string, error) {
	return []string{"0", "1"}, nil
}

func (s *errorSource) Validate(ctx context.Context, entity string) (int, error) { return 2, nil }

func (s *errorSource) OpenPartition(ctx context.Context, entity, partition string, start source.StartPosition) (source.Cursor, error) {
	if partition == "0" {
		return &failingCursor{err: s.fatal}, nil
	}
	return &blockingCursor{}, nil
}

type failingCursor struct{ err error }

func (c *failingCursor) Next(ctx context.Context) ([]source.Event, error) { return nil, c.err }
func (c *failingCursor) Close() error                                     { return nil }

type blockingCursor struct{}

func (c *blockingCursor) Next(ctx context.Context) ([]source.Event, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *blockingCursor) Close() error { return nil }

func TestCoordinatorFatalErrorCancelsSiblings(t *testing.T) {
	store := newTestStore(t)
	fatal := errors.New("authorization revoked")

	coord := NewCoordinator(Options{
		Entity:  testEntity,
		Source:  &errorSource{fatal: fatal},
		Store:   store,
		Tracker: progress.NewTracker(),
	})

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, fatal) {
			t.Fatalf("run error = %v, want %v", err, fatal)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop after fatal reader error")
	}
}

func TestCoordinatorSinglePartition(t *testing.T) {
	store := newTestStore(t)
	src := newFakeSource(8)
	src.add("0", 1, 5, func(seq uint64) string { return "a" })
	src.add("1", 1, 5, func(seq uint64) string { return "b" })

	coord := NewCoordinator(Options{
		Entity:      testEntity,
		PartitionID: "1",
		Source:      src,
		Store:       store,
		Tracker:     progress.NewTracker(),
	})
	if err := coord.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, found, _ := store.LoadCheckpoint(testEntity, "0"); found {
		t.Fatal("partition 0 should not have been consumed")
	}
	if cp, found, _ := store.LoadCheckpoint(testEntity, "1"); !found || cp.SequenceNumber != 5 {
		t.Fatalf("partition 1 checkpoint = %+v found=%v", cp, found)
	}
}

func TestReaderRetriesTransientThenDrains(t *testing.T) {
	store := newTestStore(t)
	src := &flakySource{inner: newFakeSource(8), failures: 2}
	src.inner.add("0", 1, 10, func(seq uint64) string { return "x" })

	r := NewReader(ReaderOptions{
		Entity:      testEntity,
		PartitionID: "0",
		Source:      src,
		Store:       store,
		Tracker:     progress.NewTracker(),
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	n, _ := store.CountMessages(testEntity)
	if n != 10 {
		t.Fatalf("stored records = %d, want 10", n)
	}
}

func TestReaderGivesUpAfterMaxRetries(t *testing.T) {
	store := newTestStore(t)
	src := &flakySource{inner: newFakeSource(8), failures: 100}

	r := NewReader(ReaderOptions{
		Entity:      testEntity,
		PartitionID: "0",
		Source:      src,
		Store:       store,
		Tracker:     progress.NewTracker(),
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		MaxRetries:  3,
	})
	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("run should fail once retries are exhausted")
	}
	if !strings.Contains(err.Error(), "retries exhausted") {
		t.Fatalf("err = %v, want retries exhausted", err)
	}
	// budget of 3 means three attempts, no more
	if got := 100 - src.failures; got != 3 {
		t.Fatalf("open attempts = %d, want 3", got)
	}
}

// flakySource fails OpenPartition with a transient error a fixed number of
// times before delegating.
type flakySource struct {
	inner    *fakeSource
	failures int
}

func (s *flakySource) ListPartitions(ctx context.Context, entity string) ([]string, error) {
	return s.inner.ListPartitions(ctx, entity)
}

func (s *flakySource) Validate(ctx context.Context, entity string) (int, error) {
	return s.inner.Validate(ctx, entity)
}

func (s *flakySource) OpenPartition(ctx context.Context, entity, partition string, start source.StartPosition) (source.Cursor, error) {
	if s.failures > 0 {
		s.failures--
		return nil, source.Transient(errors.New("connection reset"))
	}
	return s.inner.OpenPartition(ctx, entity, partition, start)
}
