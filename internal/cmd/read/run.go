package readrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rzbill/evtap/internal/checkpoint"
	cfgpkg "github.com/rzbill/evtap/internal/config"
	"github.com/rzbill/evtap/internal/consumer"
	"github.com/rzbill/evtap/internal/filter"
	"github.com/rzbill/evtap/internal/progress"
	"github.com/rzbill/evtap/internal/source/kafka"
	pebblestore "github.com/rzbill/evtap/internal/storage/pebble"
	"github.com/rzbill/evtap/internal/telemetry"
	logpkg "github.com/rzbill/evtap/pkg/log"
)

// Options carries everything the read command needs to run.
type Options struct {
	Config        cfgpkg.Config
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
}

// Run consumes the configured entity until ctx is cancelled, all partitions
// drain, or a reader fails. It prints a live status line and a final summary.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context so direct callers get clean shutdown too.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateSource(); err != nil {
		return err
	}

	logger := buildLogger(cfg.Log)
	logpkg.RedirectStdLog(logger)

	var metrics *telemetry.Metrics
	if cfg.MetricsPort > 0 {
		m, err := telemetry.New("evtap", nil)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		metrics = m
		telemetry.Expose(cfg.MetricsPort)
	}

	var hook pebblestore.MetricsHook
	if metrics != nil {
		hook = metrics
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       cfg.DatabasePath,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       hook,
	})
	if err != nil {
		return fmt.Errorf("open store at %s: %w", cfg.DatabasePath, err)
	}
	defer db.Close()

	store := checkpoint.NewStore(db)
	if err := store.CheckHealth(); err != nil {
		return fmt.Errorf("store health: %w", err)
	}

	flt, err := filter.New(cfg.Filters, cfg.FilterExpr)
	if err != nil {
		return err
	}

	src, err := kafka.New(kafka.Config{
		Brokers:    cfg.Kafka.Brokers,
		Version:    cfg.Kafka.Version,
		TLSEnabled: cfg.Kafka.TLSEnabled,
		SASLUser:   cfg.Kafka.SASLUser,
		SASLPass:   cfg.Kafka.SASLPass,
		MaxBatch:   cfg.Kafka.MaxBatch,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect source: %w", err)
	}
	defer src.Close()

	logger.Info("starting read",
		logpkg.Str("entity", cfg.Entity),
		logpkg.Str("partition", orAll(cfg.PartitionID)),
		logpkg.Str("db", cfg.DatabasePath),
		logpkg.Bool("ignore_checkpoint", cfg.IgnoreCheckpoint))

	tracker := progress.NewTracker()
	reporter := progress.NewReporter(tracker, cfg.FeedbackInterval, os.Stdout)
	rctx, rcancel := context.WithCancel(context.Background())
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(rctx)
	}()

	coord := consumer.NewCoordinator(consumer.Options{
		Entity:           cfg.Entity,
		PartitionID:      cfg.PartitionID,
		Source:           src,
		Store:            store,
		Filter:           flt,
		IgnoreCheckpoint: cfg.IgnoreCheckpoint,
		Tracker:          tracker,
		Metrics:          metrics,
		Logger:           logger.WithComponent("consumer"),
		BackoffBase:      cfg.Retry.BackoffBase,
		BackoffMax:       cfg.Retry.BackoffMax,
		MaxRetries:       cfg.Retry.MaxRetries,
	})
	runErr := coord.Run(sctx)

	rcancel()
	<-reporterDone

	reason := "completed"
	switch {
	case runErr != nil:
		reason = "stopped by error"
	case sctx.Err() != nil:
		reason = "stopped by signal"
	}
	fmt.Println(progress.Summary(tracker, reason))
	printCheckpoints(store, cfg.Entity)

	if runErr != nil {
		return fmt.Errorf("read failed: %w", runErr)
	}
	return nil
}

// ResetCheckpoints deletes stored checkpoints for the configured entity so
// the next run starts from the earliest retained events. An empty partition
// resets every partition.
func ResetCheckpoints(opts Options, partition string) error {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       cfg.DatabasePath,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return fmt.Errorf("open store at %s: %w", cfg.DatabasePath, err)
	}
	defer db.Close()

	store := checkpoint.NewStore(db)
	if partition != "" {
		if err := store.ResetCheckpoint(cfg.Entity, partition); err != nil {
			return err
		}
		fmt.Printf("checkpoint reset for %s partition %s\n", cfg.Entity, partition)
		return nil
	}
	cps, err := store.ListCheckpoints(cfg.Entity)
	if err != nil {
		return err
	}
	for _, cp := range cps {
		if err := store.ResetCheckpoint(cfg.Entity, cp.PartitionID); err != nil {
			return err
		}
	}
	fmt.Printf("checkpoints reset for %s (%d partitions)\n", cfg.Entity, len(cps))
	return nil
}

// printCheckpoints lists the stored per-partition positions after a run.
func printCheckpoints(store *checkpoint.Store, entity string) {
	cps, err := store.ListCheckpoints(entity)
	if err != nil || len(cps) == 0 {
		return
	}
	fmt.Println("  checkpoints:")
	for _, cp := range cps {
		fmt.Printf("    partition %s at sequence %d\n", cp.PartitionID, cp.SequenceNumber)
	}
}

func buildLogger(cfg cfgpkg.LogConfig) logpkg.Logger {
	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.Level, Format: cfg.Format})
	if err != nil {
		return logpkg.NewLogger(
			logpkg.WithLevel(logpkg.InfoLevel),
			logpkg.WithFormatter(&logpkg.TextFormatter{}),
		)
	}
	return logger
}

func orAll(partition string) string {
	if partition == "" {
		return "all"
	}
	return partition
}
