package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/evtap/internal/checkpoint"
	"github.com/rzbill/evtap/internal/filter"
	"github.com/rzbill/evtap/internal/progress"
	"github.com/rzbill/evtap/internal/source"
	"github.com/rzbill/evtap/internal/telemetry"
	"github.com/rzbill/evtap/pkg/log"
)

// ReaderOptions configures a single partition reader.
type ReaderOptions struct {
	Entity      string
	PartitionID string
	Source      source.Source
	Store       *checkpoint.Store
	Filter      *filter.Filter
	// IgnoreCheckpoint starts from the earliest retained position instead of
	// the stored checkpoint. Stored records still deduplicate redeliveries.
	IgnoreCheckpoint bool
	Tracker          *progress.Tracker
	Metrics          *telemetry.Metrics
	Logger           log.Logger

	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxRetries bounds consecutive transient failures before the reader
	// gives up. Zero uses the default.
	MaxRetries  int
}

// Reader consumes one partition, committing records and the partition
// checkpoint in a single atomic batch. Only one Reader per (entity,
// partition) may run at a time.
type Reader struct {
	opts   ReaderOptions
	logger log.Logger
}

// NewReader builds a reader for one partition.
func NewReader(opts ReaderOptions) *Reader {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Reader{
		opts:   opts,
		logger: logger.With(log.Str("partition", opts.PartitionID)),
	}
}

// Run pulls batches until the context is cancelled, the partition ends, or a
// fatal error occurs. Cancellation is cooperative: an in-flight batch commit
// always completes so the checkpoint never lags the stored records.
func (r *Reader) Run(ctx context.Context) error {
	bo := newBackoff(r.opts.BackoffBase, r.opts.BackoffMax, r.opts.MaxRetries)

	for {
		cur, err := r.openCursor(ctx)
		if err != nil {
			if source.IsTransient(err) {
				if bo.fail() {
					return fmt.Errorf("open partition %s: retries exhausted: %w", r.opts.PartitionID, err)
				}
				r.logger.Warn("open partition failed, retrying", log.Err(err))
				if werr := bo.wait(ctx); werr != nil {
					return nil
				}
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = r.consume(ctx, cur, bo)
		cerr := cur.Close()
		if err == nil {
			if cerr != nil {
				r.logger.Warn("cursor close", log.Err(cerr))
			}
			return nil
		}
		if source.IsTransient(err) {
			if bo.fail() {
				return fmt.Errorf("read partition %s: retries exhausted: %w", r.opts.PartitionID, err)
			}
			r.logger.Warn("partition read failed, reopening", log.Err(err))
			if werr := bo.wait(ctx); werr != nil {
				return nil
			}
			continue
		}
		return err
	}
}

// openCursor resolves the resume position and opens the partition. With a
// stored checkpoint the cursor starts strictly after it; otherwise, or when
// the checkpoint is ignored, it starts from the earliest retained event.
func (r *Reader) openCursor(ctx context.Context) (source.Cursor, error) {
	start := source.Earliest()
	if !r.opts.IgnoreCheckpoint {
		cp, found, err := r.opts.Store.LoadCheckpoint(r.opts.Entity, r.opts.PartitionID)
		if err != nil {
			return nil, err
		}
		if found {
			start = source.AfterSequence(cp.SequenceNumber, cp.Offset)
			r.logger.Info("resuming from checkpoint",
				log.Uint64("sequence", cp.SequenceNumber),
				log.Str("offset", cp.Offset))
		} else {
			r.logger.Info("no checkpoint, starting from earliest")
		}
	} else {
		r.logger.Info("checkpoint ignored, starting from earliest")
	}
	return r.opts.Source.OpenPartition(ctx, r.opts.Entity, r.opts.PartitionID, start)
}

func (r *Reader) consume(ctx context.Context, cur source.Cursor, bo *backoff) error {
	for {
		events, err := cur.Next(ctx)
		if err != nil {
			if errors.Is(err, source.ErrPartitionEnd) {
				r.logger.Info("partition drained")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		bo.reset()

		if err := r.commit(ctx, events); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// commit stages the batch and writes records plus the advanced checkpoint in
// one atomic store batch. Filtered and duplicated events advance the
// checkpoint without storing a record, so a restart never re-fetches them.
func (r *Reader) commit(ctx context.Context, events []source.Event) error {
	if len(events) == 0 {
		return nil
	}

	var staged []checkpoint.MessageRecord
	for _, ev := range events {
		dup, err := r.opts.Store.HasMessage(r.opts.Entity, r.opts.PartitionID, ev.SequenceNumber)
		if err != nil {
			return err
		}
		if dup {
			r.countDuplicated()
			continue
		}

		if r.opts.Filter != nil && !r.opts.Filter.Match(filter.Record{
			Partition: r.opts.PartitionID,
			Sequence:  ev.SequenceNumber,
			Content:   ev.Body,
			Props:     ev.Properties,
		}) {
			r.countSkipped()
			continue
		}

		id := ev.EventID
		if id == "" {
			id = checkpoint.SynthEventID(r.opts.PartitionID, ev.SequenceNumber)
		}
		staged = append(staged, checkpoint.MessageRecord{
			EntityPath:     r.opts.Entity,
			PartitionID:    r.opts.PartitionID,
			EventID:        id,
			SequenceNumber: ev.SequenceNumber,
			Offset:         ev.Offset,
			EnqueuedTime:   ev.EnqueuedTime,
			Content:        ev.Body,
			Metadata:       ev.Properties,
		})
	}

	last := events[len(events)-1]
	cp := checkpoint.PartitionCheckpoint{
		PartitionID:    r.opts.PartitionID,
		SequenceNumber: last.SequenceNumber,
		Offset:         last.Offset,
	}

	// The commit must survive cancellation: records and checkpoint land
	// together or not at all.
	if err := r.opts.Store.CommitBatch(context.WithoutCancel(ctx), r.opts.Entity, staged, cp); err != nil {
		return err
	}
	r.countRead(len(staged))
	r.logger.Debug("batch committed",
		log.Int("records", len(staged)),
		log.Uint64("checkpoint", cp.SequenceNumber))
	return nil
}

func (r *Reader) countRead(n int) {
	if n == 0 {
		return
	}
	if r.opts.Tracker != nil {
		r.opts.Tracker.AddRead(uint64(n))
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.AddRead(r.opts.PartitionID, n)
	}
}

func (r *Reader) countSkipped() {
	if r.opts.Tracker != nil {
		r.opts.Tracker.IncSkipped()
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.IncSkipped(r.opts.PartitionID)
	}
}

func (r *Reader) countDuplicated() {
	if r.opts.Tracker != nil {
		r.opts.Tracker.IncDuplicated()
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.IncDuplicated(r.opts.PartitionID)
	}
}
