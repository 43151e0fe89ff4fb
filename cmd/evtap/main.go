package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	exportrun "github.com/rzbill/evtap/internal/cmd/export"
	readrun "github.com/rzbill/evtap/internal/cmd/read"
	cfgpkg "github.com/rzbill/evtap/internal/config"
	pebblestore "github.com/rzbill/evtap/internal/storage/pebble"
	logpkg "github.com/rzbill/evtap/pkg/log"
)

func main() {
	// initialize logger for CLI; EVTAP_LOG_LEVEL applies before config loads
	level := os.Getenv("EVTAP_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "evtap",
		Short: "Checkpointed event reader and exporter",
		Long:  "evtap reads partitioned event streams into a local store with resumable checkpoints, and exports stored records to files.",
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("entity", "", "Entity (topic) to read or export")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	rootCmd.PersistentFlags().String("db", "", "Store path (overrides the data-dir derived location)")
	rootCmd.PersistentFlags().StringSlice("filter", nil, "Case-insensitive substring filter; any match passes (repeatable)")
	rootCmd.PersistentFlags().String("filter-expr", "", "CEL expression filter over partition, sequence, text, size, props")
	rootCmd.PersistentFlags().String("fsync", "always", "Fsync mode: always|interval|never")
	rootCmd.PersistentFlags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms")
	rootCmd.PersistentFlags().Duration("feedback-interval", 0, "Interval between progress updates")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "Serve Prometheus metrics on this port (0 disables)")

	// read
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read the entity into the local store, resuming from checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := buildOptions(cmd)
			if err != nil {
				return err
			}
			opts.Config.PartitionID, _ = cmd.Flags().GetString("partition")
			opts.Config.IgnoreCheckpoint, _ = cmd.Flags().GetBool("ignore-checkpoint")
			if brokers, _ := cmd.Flags().GetStringSlice("brokers"); len(brokers) > 0 {
				opts.Config.Kafka.Brokers = brokers
			}
			if v, _ := cmd.Flags().GetString("kafka-version"); v != "" {
				opts.Config.Kafka.Version = v
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return readrun.Run(ctx, opts)
		},
	}
	readCmd.Flags().String("partition", "", "Read a single partition (default all)")
	readCmd.Flags().Bool("ignore-checkpoint", false, "Start from the earliest retained events instead of the checkpoint")
	readCmd.Flags().StringSlice("brokers", nil, "Kafka bootstrap brokers")
	readCmd.Flags().String("kafka-version", "", "Kafka protocol version")
	rootCmd.AddCommand(readCmd)

	// export
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored records to files, resuming from the export cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := buildOptions(cmd)
			if err != nil {
				return err
			}
			if dir, _ := cmd.Flags().GetString("out-dir"); dir != "" {
				opts.Config.Export.Dir = dir
			}
			if format, _ := cmd.Flags().GetString("format"); format != "" {
				opts.Config.Export.Format = format
			}
			if v, _ := cmd.Flags().GetBool("per-message"); v {
				opts.Config.Export.PerMessage = true
			}
			if v, _ := cmd.Flags().GetBool("use-local-time"); v {
				opts.Config.Export.UseLocalTime = true
			}
			if v, _ := cmd.Flags().GetBool("include-metadata"); v {
				opts.Config.Export.IncludeMetadata = true
			}
			if v, _ := cmd.Flags().GetBool("ignore-cursor"); v {
				opts.Config.Export.IgnoreCursor = true
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return exportrun.Run(ctx, exportOptions(opts))
		},
	}
	exportCmd.Flags().String("out-dir", "", "Export output directory")
	exportCmd.Flags().String("format", "", "Export format: txt|csv|json")
	exportCmd.Flags().Bool("per-message", false, "One file per record instead of condensed month buckets")
	exportCmd.Flags().Bool("use-local-time", false, "Bucket files by local wall time instead of UTC")
	exportCmd.Flags().Bool("include-metadata", false, "Emit entity, partition, event id and timestamp alongside content")
	exportCmd.Flags().Bool("ignore-cursor", false, "Re-inspect every stored record regardless of the cursor")
	rootCmd.AddCommand(exportCmd)

	// checkpoint reset
	checkpointCmd := &cobra.Command{Use: "checkpoint", Short: "Checkpoint operations"}
	checkpointResetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete stored checkpoints so the next read starts from earliest",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := buildOptions(cmd)
			if err != nil {
				return err
			}
			partition, _ := cmd.Flags().GetString("partition")
			return readrun.ResetCheckpoints(opts, partition)
		},
	}
	checkpointResetCmd.Flags().String("partition", "", "Reset a single partition (default all)")
	checkpointCmd.AddCommand(checkpointResetCmd)
	rootCmd.AddCommand(checkpointCmd)

	// cursor reset
	cursorCmd := &cobra.Command{Use: "cursor", Short: "Export cursor operations"}
	cursorResetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the export cursor so the next export re-inspects everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := buildOptions(cmd)
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("format"); format != "" {
				opts.Config.Export.Format = format
			}
			if v, _ := cmd.Flags().GetBool("per-message"); v {
				opts.Config.Export.PerMessage = true
			}
			if v, _ := cmd.Flags().GetBool("include-metadata"); v {
				opts.Config.Export.IncludeMetadata = true
			}
			return exportrun.ResetCursor(exportOptions(opts))
		},
	}
	cursorResetCmd.Flags().String("format", "", "Export format of the cursor scope: txt|csv|json")
	cursorResetCmd.Flags().Bool("per-message", false, "Per-message layout of the cursor scope")
	cursorResetCmd.Flags().Bool("include-metadata", false, "Metadata toggle of the cursor scope")
	cursorCmd.AddCommand(cursorResetCmd)
	rootCmd.AddCommand(cursorCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func exportOptions(opts readrun.Options) exportrun.Options {
	return exportrun.Options{
		Config:        opts.Config,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	}
}

// buildOptions loads the config file, applies shared flag overrides, and
// resolves the fsync mode.
func buildOptions(cmd *cobra.Command) (readrun.Options, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(configPath)
	if err != nil {
		return readrun.Options{}, err
	}

	if v, _ := cmd.Flags().GetString("entity"); v != "" {
		cfg.Entity = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
		cfg.DatabasePath = ""
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.DatabasePath = v
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = cfg.DataDir + "/db"
	}
	if v, _ := cmd.Flags().GetStringSlice("filter"); len(v) > 0 {
		cfg.Filters = v
	}
	if v, _ := cmd.Flags().GetString("filter-expr"); v != "" {
		cfg.FilterExpr = v
	}
	if v, _ := cmd.Flags().GetDuration("feedback-interval"); v > 0 {
		cfg.FeedbackInterval = v
	}
	if v, _ := cmd.Flags().GetInt("metrics-port"); v > 0 {
		cfg.MetricsPort = v
	}

	fsyncMode, _ := cmd.Flags().GetString("fsync")
	fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
	mode := pebblestore.FsyncModeAlways
	switch fsyncMode {
	case "never":
		mode = pebblestore.FsyncModeNever
	case "interval":
		mode = pebblestore.FsyncModeInterval
	case "always", "":
		mode = pebblestore.FsyncModeAlways
	default:
		return readrun.Options{}, fmt.Errorf("invalid --fsync; use always|interval|never")
	}

	return readrun.Options{
		Config:        cfg,
		Fsync:         mode,
		FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
	}, nil
}
