package export

import (
	"context"
	"fmt"

	"github.com/rzbill/evtap/internal/checkpoint"
	"github.com/rzbill/evtap/internal/export/sink"
	"github.com/rzbill/evtap/internal/filter"
	"github.com/rzbill/evtap/internal/progress"
	"github.com/rzbill/evtap/internal/telemetry"
	"github.com/rzbill/evtap/pkg/log"
)

// defaultFlushEvery bounds how many records may need re-export after a crash.
const defaultFlushEvery = 100

// Options configures an export run.
type Options struct {
	Entity string
	Scope  string
	Store  *checkpoint.Store
	Sink   sink.Sink
	// Filter drops records from the output. Dropped records still advance
	// the cursor so later runs do not re-inspect them.
	Filter *filter.Filter
	// IgnoreCursor re-inspects every stored record regardless of the cursor.
	// The cursor still only moves forward.
	IgnoreCursor bool
	Tracker      *progress.Tracker
	Metrics      *telemetry.Metrics
	Logger       log.Logger
	// FlushEvery is the number of written records between sink flushes and
	// cursor advances. Zero uses the default.
	FlushEvery int
}

// Pipeline enumerates stored records in (partition, sequence) order and
// writes the ones passing the filter to the sink. The export cursor advances
// only after a successful sink flush, so a crash re-exports at most the
// unflushed tail and never skips a record.
type Pipeline struct {
	opts   Options
	logger log.Logger
}

// NewPipeline builds a pipeline from opts.
func NewPipeline(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = defaultFlushEvery
	}
	return &Pipeline{opts: opts, logger: logger.With(log.Str("scope", opts.Scope))}
}

// Run exports until the stored records are exhausted, the context is
// cancelled, or the sink fails.
func (p *Pipeline) Run(ctx context.Context) error {
	cursor, found, err := p.opts.Store.LoadCursor(p.opts.Scope)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if found && !p.opts.IgnoreCursor {
		p.logger.Info("resuming export",
			log.Str("last_partition", cursor.LastPartition),
			log.Uint64("last_sequence", cursor.LastSequence))
	}

	var (
		// last scanned position whose disposition is settled; safe to
		// advance the cursor here after the next successful flush
		lastPartition string
		lastSequence  uint64
		haveLast      bool
		unflushed     int
	)

	flushAndAdvance := func() error {
		if err := p.opts.Sink.Flush(); err != nil {
			return fmt.Errorf("flush sink: %w", err)
		}
		if haveLast {
			if err := p.advance(lastPartition, lastSequence, cursor, found); err != nil {
				return err
			}
		}
		unflushed = 0
		return nil
	}

	scanErr := p.opts.Store.ScanMessages(p.opts.Entity, func(rec *checkpoint.MessageRecord, decodeErr error) (bool, error) {
		if ctx.Err() != nil {
			return false, nil
		}
		if decodeErr != nil {
			// Position is unrecoverable from a corrupt value; log and move
			// on without touching the cursor bookkeeping.
			p.logger.Warn("skipping undecodable record", log.Err(decodeErr))
			return true, nil
		}

		if found && !p.opts.IgnoreCursor && cursor.Covers(rec.PartitionID, rec.SequenceNumber) {
			return true, nil
		}

		if p.opts.Filter != nil && !p.opts.Filter.Match(filter.Record{
			Partition: rec.PartitionID,
			Sequence:  rec.SequenceNumber,
			Content:   rec.Content,
			Props:     rec.Metadata,
		}) {
			p.countSkipped()
			lastPartition, lastSequence, haveLast = rec.PartitionID, rec.SequenceNumber, true
			return true, nil
		}

		if err := p.opts.Sink.Write(sink.Record{
			EntityPath:  rec.EntityPath,
			PartitionID: rec.PartitionID,
			EventID:     rec.EventID,
			Timestamp:   rec.EnqueuedTime,
			Content:     rec.Content,
		}); err != nil {
			return false, fmt.Errorf("write record (%s, %d): %w", rec.PartitionID, rec.SequenceNumber, err)
		}
		p.countExported()
		lastPartition, lastSequence, haveLast = rec.PartitionID, rec.SequenceNumber, true

		unflushed++
		if unflushed >= p.opts.FlushEvery {
			if err := flushAndAdvance(); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if scanErr != nil {
		return scanErr
	}

	return flushAndAdvance()
}

// advance moves the cursor forward, tolerating positions an earlier run
// already covered when the cursor is being ignored.
func (p *Pipeline) advance(partition string, seq uint64, prior checkpoint.ExportCursor, hadPrior bool) error {
	if p.opts.IgnoreCursor && hadPrior && prior.Covers(partition, seq) {
		return nil
	}
	if err := p.opts.Store.AdvanceCursor(p.opts.Scope, partition, seq); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

func (p *Pipeline) countExported() {
	if p.opts.Tracker != nil {
		p.opts.Tracker.AddExported(1)
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.AddExported(1)
	}
}

func (p *Pipeline) countSkipped() {
	if p.opts.Tracker != nil {
		p.opts.Tracker.IncSkipped()
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.IncSkipped("export")
	}
}
