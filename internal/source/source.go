package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPartitionEnd signals that a finite partition has no further events.
var ErrPartitionEnd = errors.New("source: end of partition")

// Event is one delivered event from a partition of the remote log.
type Event struct {
	SequenceNumber uint64
	Offset         string
	EnqueuedTime   time.Time
	// EventID is the source-assigned id, empty when the source has none.
	EventID    string
	Body       []byte
	Properties map[string]string
}

// StartKind selects where a partition cursor begins.
type StartKind int

const (
	// StartEarliest begins at the earliest position the source retains.
	StartEarliest StartKind = iota
	// StartAfterSequence resumes strictly after a stored (sequence, offset).
	StartAfterSequence
)

// StartPosition is the resume point handed to OpenPartition.
type StartPosition struct {
	Kind           StartKind
	SequenceNumber uint64
	Offset         string
}

// Earliest returns the start-of-partition position.
func Earliest() StartPosition { return StartPosition{Kind: StartEarliest} }

// AfterSequence returns a position strictly after the given checkpoint.
func AfterSequence(seq uint64, offset string) StartPosition {
	return StartPosition{Kind: StartAfterSequence, SequenceNumber: seq, Offset: offset}
}

// Cursor pulls batches of events from a single partition. Next blocks until a
// batch is available, the context is cancelled, or the partition ends.
type Cursor interface {
	Next(ctx context.Context) ([]Event, error)
	Close() error
}

// Source is the partitioned event source consumed by the reader pool.
type Source interface {
	// ListPartitions enumerates the partition ids of an entity.
	ListPartitions(ctx context.Context, entityPath string) ([]string, error)
	// Validate checks connectivity and returns the partition count.
	Validate(ctx context.Context, entityPath string) (int, error)
	// OpenPartition opens a pull cursor over one partition.
	OpenPartition(ctx context.Context, entityPath, partitionID string, start StartPosition) (Cursor, error)
}

// TransientError wraps source errors that are safe to retry with backoff
// (network hiccups, throttling). Anything else is treated as fatal.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
