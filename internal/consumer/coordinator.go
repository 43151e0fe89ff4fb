package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/evtap/internal/checkpoint"
	"github.com/rzbill/evtap/internal/filter"
	"github.com/rzbill/evtap/internal/progress"
	"github.com/rzbill/evtap/internal/source"
	"github.com/rzbill/evtap/internal/telemetry"
	"github.com/rzbill/evtap/pkg/log"
)

// Options configures a consume run over one entity.
type Options struct {
	Entity string
	// PartitionID selects a single partition. Empty consumes all partitions.
	PartitionID      string
	Source           source.Source
	Store            *checkpoint.Store
	Filter           *filter.Filter
	IgnoreCheckpoint bool
	Tracker          *progress.Tracker
	Metrics          *telemetry.Metrics
	Logger           log.Logger

	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxRetries  int
}

// Coordinator validates the source, resolves the partition set, and runs one
// Reader goroutine per partition. The first fatal reader error cancels the
// siblings and is returned after every reader has drained.
type Coordinator struct {
	opts   Options
	logger log.Logger
}

// NewCoordinator builds a coordinator from opts.
func NewCoordinator(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Coordinator{opts: opts, logger: logger}
}

// Run blocks until the context is cancelled, all partitions drain, or a
// reader fails fatally.
func (c *Coordinator) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := c.logger.With(log.Str("run_id", runID), log.Str("entity", c.opts.Entity))

	count, err := c.opts.Source.Validate(ctx, c.opts.Entity)
	if err != nil {
		return fmt.Errorf("validate source: %w", err)
	}

	partitions, err := c.partitions(ctx)
	if err != nil {
		return err
	}
	logger.Info("starting readers",
		log.Int("partitions", len(partitions)),
		log.Int("available", count))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(partitions))

	for _, pid := range partitions {
		reader := NewReader(ReaderOptions{
			Entity:           c.opts.Entity,
			PartitionID:      pid,
			Source:           c.opts.Source,
			Store:            c.opts.Store,
			Filter:           c.opts.Filter,
			IgnoreCheckpoint: c.opts.IgnoreCheckpoint,
			Tracker:          c.opts.Tracker,
			Metrics:          c.opts.Metrics,
			Logger:           logger,
			BackoffBase:      c.opts.BackoffBase,
			BackoffMax:       c.opts.BackoffMax,
			MaxRetries:       c.opts.MaxRetries,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reader.Run(ctx); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) partitions(ctx context.Context) ([]string, error) {
	if c.opts.PartitionID != "" {
		if !checkpoint.ValidPartitionID(c.opts.PartitionID) {
			return nil, fmt.Errorf("invalid partition id %q", c.opts.PartitionID)
		}
		return []string{c.opts.PartitionID}, nil
	}
	partitions, err := c.opts.Source.ListPartitions(ctx, c.opts.Entity)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("entity %q has no partitions", c.opts.Entity)
	}
	return partitions, nil
}
