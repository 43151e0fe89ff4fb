package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	pebblestore "github.com/rzbill/evtap/internal/storage/pebble"
)

// ErrCursorRegression is returned when an AdvanceCursor call would move an
// export cursor backward in enumeration order.
var ErrCursorRegression = errors.New("checkpoint: export cursor would move backward")

// Store is the typed layer over the embedded KV store. It owns the durable
// bytes for checkpoints, message records, and export cursors; all mutation
// goes through atomic batches.
type Store struct {
	db *pebblestore.DB
}

// NewStore wraps an open Pebble database.
func NewStore(db *pebblestore.DB) *Store { return &Store{db: db} }

// DB exposes the underlying store for advanced operations (internal use only).
func (s *Store) DB() *pebblestore.DB { return s.db }

// CheckHealth verifies the store accepts writes and reads before a run starts.
func (s *Store) CheckHealth() error {
	key := []byte("__health_check__")
	if err := s.db.Set(key, []byte("ok")); err != nil {
		return fmt.Errorf("checkpoint: health write: %w", err)
	}
	val, err := s.db.Get(key)
	if err != nil || string(val) != "ok" {
		return fmt.Errorf("checkpoint: health read failed: %w", err)
	}
	return s.db.Delete(key)
}

// LoadCheckpoint reads the checkpoint for a partition. The second return is
// false when no checkpoint exists.
func (s *Store) LoadCheckpoint(entity, partition string) (PartitionCheckpoint, bool, error) {
	val, err := s.db.Get(KeyCheckpoint(entity, partition))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return PartitionCheckpoint{}, false, nil
		}
		return PartitionCheckpoint{}, false, err
	}
	var cp PartitionCheckpoint
	if err := decode(val, &cp); err != nil {
		return PartitionCheckpoint{}, false, err
	}
	return cp, true, nil
}

// ResetCheckpoint deletes the checkpoint row so the next run reads from the
// source's earliest position.
func (s *Store) ResetCheckpoint(entity, partition string) error {
	return s.db.Delete(KeyCheckpoint(entity, partition))
}

// ListCheckpoints returns all checkpoints for an entity in partition order.
func (s *Store) ListCheckpoints(entity string) ([]PartitionCheckpoint, error) {
	var out []PartitionCheckpoint
	err := s.db.Scan(KeyCheckpointPrefix(entity), func(_, val []byte) (bool, error) {
		var cp PartitionCheckpoint
		if err := decode(val, &cp); err != nil {
			return false, err
		}
		out = append(out, cp)
		return true, nil
	})
	return out, err
}

// HasMessage reports whether a record for (partition, seq) is already stored.
func (s *Store) HasMessage(entity, partition string, seq uint64) (bool, error) {
	return s.db.Has(KeyMessage(entity, partition, seq))
}

// CommitBatch durably writes the staged records together with the advanced
// checkpoint in one atomic batch. A crash can never leave a record visible
// without a checkpoint covering it, or the checkpoint ahead without its
// records.
func (s *Store) CommitBatch(ctx context.Context, entity string, records []MessageRecord, cp PartitionCheckpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	b := s.db.NewBatch()
	defer b.Close()

	for i := range records {
		rec := &records[i]
		val, err := encode(rec)
		if err != nil {
			return fmt.Errorf("checkpoint: encode message %s/%d: %w", rec.PartitionID, rec.SequenceNumber, err)
		}
		if err := b.Set(KeyMessage(entity, rec.PartitionID, rec.SequenceNumber), val, nil); err != nil {
			return err
		}
	}

	cpVal, err := encode(&cp)
	if err != nil {
		return fmt.Errorf("checkpoint: encode checkpoint %s: %w", cp.PartitionID, err)
	}
	if err := b.Set(KeyCheckpoint(entity, cp.PartitionID), cpVal, nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// ScanMessages enumerates stored records for an entity in (partition,
// sequence) order. Records that fail to decode are reported through decodeErr
// with a nil record so callers can count and skip them.
func (s *Store) ScanMessages(entity string, fn func(rec *MessageRecord, decodeErr error) (bool, error)) error {
	return s.db.Scan(KeyMessagePrefix(entity), func(key, val []byte) (bool, error) {
		var rec MessageRecord
		if err := decode(val, &rec); err != nil {
			return fn(nil, fmt.Errorf("key %q: %w", shortKey(key), err))
		}
		return fn(&rec, nil)
	})
}

// CountMessages returns the number of stored records for an entity.
func (s *Store) CountMessages(entity string) (int, error) {
	n := 0
	err := s.db.Scan(KeyMessagePrefix(entity), func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// LoadCursor reads the export cursor for a scope. The second return is false
// when no cursor exists yet.
func (s *Store) LoadCursor(scope string) (ExportCursor, bool, error) {
	val, err := s.db.Get(KeyCursor(scope))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return ExportCursor{}, false, nil
		}
		return ExportCursor{}, false, err
	}
	var cur ExportCursor
	if err := decode(val, &cur); err != nil {
		return ExportCursor{}, false, err
	}
	return cur, true, nil
}

// AdvanceCursor moves the export cursor for a scope forward. Advancing to the
// current position is a no-op; moving backward returns ErrCursorRegression.
func (s *Store) AdvanceCursor(scope, partition string, seq uint64) error {
	cur, ok, err := s.LoadCursor(scope)
	if err != nil {
		return err
	}
	if ok {
		if cur.LastPartition == partition && cur.LastSequence == seq {
			return nil
		}
		if cur.Covers(partition, seq) {
			return fmt.Errorf("%w: at (%s, %d), requested (%s, %d)",
				ErrCursorRegression, cur.LastPartition, cur.LastSequence, partition, seq)
		}
	}
	next := ExportCursor{ScopeID: scope, LastPartition: partition, LastSequence: seq}
	val, err := encode(&next)
	if err != nil {
		return err
	}
	return s.db.Set(KeyCursor(scope), val)
}

// ResetCursor deletes the export cursor so the next export run re-inspects
// every stored record.
func (s *Store) ResetCursor(scope string) error {
	return s.db.Delete(KeyCursor(scope))
}

// shortKey renders a key for error messages, eliding the binary seq suffix.
func shortKey(key []byte) string {
	if i := bytes.LastIndexByte(key, '/'); i >= 0 && len(key)-i-1 == 8 {
		return string(key[:i])
	}
	return string(key)
}
