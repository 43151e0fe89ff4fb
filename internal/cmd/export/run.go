package exportrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rzbill/evtap/internal/checkpoint"
	cfgpkg "github.com/rzbill/evtap/internal/config"
	"github.com/rzbill/evtap/internal/export"
	"github.com/rzbill/evtap/internal/export/sink"
	"github.com/rzbill/evtap/internal/filter"
	"github.com/rzbill/evtap/internal/progress"
	pebblestore "github.com/rzbill/evtap/internal/storage/pebble"
	"github.com/rzbill/evtap/internal/telemetry"
	logpkg "github.com/rzbill/evtap/pkg/log"
)

// Options carries everything the export command needs to run.
type Options struct {
	Config        cfgpkg.Config
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
}

// Run exports stored records to the configured sink, resuming from the
// export cursor. It never contacts the event source.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := buildLogger(cfg.Log)
	logpkg.RedirectStdLog(logger)

	sinkOpts, err := cfg.SinkOptions()
	if err != nil {
		return err
	}
	if err := probeWritable(sinkOpts.Dir); err != nil {
		return fmt.Errorf("export dir %s: %w", sinkOpts.Dir, err)
	}

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

	out, err := sink.New(sinkOpts)
	if err != nil {
		return err
	}

	scope := export.ScopeID(cfg.Entity, sinkOpts, cfg.Filters, cfg.FilterExpr)
	logger.Info("starting export",
		logpkg.Str("entity", cfg.Entity),
		logpkg.Str("dir", sinkOpts.Dir),
		logpkg.Str("format", string(sinkOpts.Format)),
		logpkg.Str("scope", scope),
		logpkg.Bool("ignore_cursor", cfg.Export.IgnoreCursor))

	tracker := progress.NewTracker()
	reporter := progress.NewReporter(tracker, cfg.FeedbackInterval, os.Stdout)
	rctx, rcancel := context.WithCancel(context.Background())
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(rctx)
	}()

	pipeline := export.NewPipeline(export.Options{
		Entity:       cfg.Entity,
		Scope:        scope,
		Store:        store,
		Sink:         out,
		Filter:       flt,
		IgnoreCursor: cfg.Export.IgnoreCursor,
		Tracker:      tracker,
		Metrics:      metrics,
		Logger:       logger.WithComponent("export"),
		FlushEvery:   cfg.Export.FlushEvery,
	})
	runErr := pipeline.Run(sctx)
	if cerr := out.Close(); runErr == nil && cerr != nil {
		runErr = fmt.Errorf("close sink: %w", cerr)
	}

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
	if cur, found, err := store.LoadCursor(scope); err == nil && found {
		fmt.Printf("  cursor: partition %s sequence %d\n", cur.LastPartition, cur.LastSequence)
	}

	if runErr != nil {
		return fmt.Errorf("export failed: %w", runErr)
	}
	return nil
}

// ResetCursor deletes the export cursor for the current configuration so the
// next run re-inspects every stored record.
func ResetCursor(opts Options) error {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	sinkOpts, err := cfg.SinkOptions()
	if err != nil {
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
	scope := export.ScopeID(cfg.Entity, sinkOpts, cfg.Filters, cfg.FilterExpr)
	if err := store.ResetCursor(scope); err != nil {
		return err
	}
	fmt.Printf("cursor reset for scope %s\n", scope)
	return nil
}

// probeWritable verifies the export directory can be created and written
// before any store work happens.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".evtap-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
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
