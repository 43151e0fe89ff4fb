package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rzbill/evtap/internal/export/sink"
)

// KafkaConfig configures the Kafka source driver.
type KafkaConfig struct {
	Brokers    []string `koanf:"brokers"`
	Version    string   `koanf:"version"`
	TLSEnabled bool     `koanf:"tls_enabled"`
	SASLUser   string   `koanf:"sasl_user"`
	SASLPass   string   `koanf:"sasl_pass"`
	MaxBatch   int      `koanf:"max_batch"`
}

// ExportConfig configures the export command.
type ExportConfig struct {
	Dir             string `koanf:"dir"`
	Format          string `koanf:"format"` // txt|csv|json
	PerMessage      bool   `koanf:"per_message"`
	UseLocalTime    bool   `koanf:"use_local_time"`
	IncludeMetadata bool   `koanf:"include_metadata"`
	IgnoreCursor    bool   `koanf:"ignore_cursor"`
	FlushEvery      int    `koanf:"flush_every"`
}

// RetryConfig bounds how readers back off on transient source errors.
type RetryConfig struct {
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffMax  time.Duration `koanf:"backoff_max"`
	MaxRetries  int           `koanf:"max_retries"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text|json
}

// Config is the merged configuration of the evtap commands.
type Config struct {
	Entity        string `koanf:"entity"`
	ConsumerGroup string `koanf:"consumer_group"`
	// PartitionID limits a run to one partition. Empty consumes all.
	PartitionID string `koanf:"partition_id"`

	DataDir string `koanf:"data_dir"`
	// DatabasePath overrides the store location derived from DataDir.
	DatabasePath string `koanf:"database_path"`

	Filters          []string `koanf:"filters"`
	FilterExpr       string   `koanf:"filter_expr"`
	IgnoreCheckpoint bool     `koanf:"ignore_checkpoint"`

	FeedbackInterval time.Duration `koanf:"feedback_interval"`
	MetricsPort      int           `koanf:"metrics_port"`

	Kafka  KafkaConfig  `koanf:"kafka"`
	Export ExportConfig `koanf:"export"`
	Retry  RetryConfig  `koanf:"retry"`
	Log    LogConfig    `koanf:"log"`
}

// Load merges YAML (if present) with env vars (prefix `EVTAP__`,
// delimiter `__`) and fills in defaults.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	_ = k.Load(env.Provider("EVTAP__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "db")
	}
	if c.FeedbackInterval == 0 {
		c.FeedbackInterval = time.Second
	}
	if c.Kafka.MaxBatch == 0 {
		c.Kafka.MaxBatch = 256
	}
	if c.Export.Format == "" {
		c.Export.Format = string(sink.FormatText)
	}
	if c.Export.Dir == "" {
		c.Export.Dir = filepath.Join(c.DataDir, "export")
	}
	if c.Retry.BackoffBase == 0 {
		c.Retry.BackoffBase = 250 * time.Millisecond
	}
	if c.Retry.BackoffMax == 0 {
		c.Retry.BackoffMax = 30 * time.Second
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the fields every command depends on.
func (c *Config) Validate() error {
	if c.Entity == "" {
		return errors.New("entity is required")
	}
	if _, err := sink.ParseFormat(c.Export.Format); err != nil {
		return err
	}
	if c.FeedbackInterval <= 0 {
		return fmt.Errorf("feedback_interval must be positive, got %s", c.FeedbackInterval)
	}
	if c.Export.FlushEvery < 0 {
		return fmt.Errorf("export.flush_every must not be negative, got %d", c.Export.FlushEvery)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port out of range: %d", c.MetricsPort)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	return nil
}

// ValidateSource additionally requires a reachable source definition. The
// export command never contacts the source, so it skips this.
func (c *Config) ValidateSource() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	return nil
}

// SinkOptions maps the export block onto sink options.
func (c *Config) SinkOptions() (sink.Options, error) {
	format, err := sink.ParseFormat(c.Export.Format)
	if err != nil {
		return sink.Options{}, err
	}
	mode := sink.ModeCondensed
	if c.Export.PerMessage {
		mode = sink.ModePerMessage
	}
	return sink.Options{
		Dir:             c.Export.Dir,
		Format:          format,
		Mode:            mode,
		UseLocalTime:    c.Export.UseLocalTime,
		IncludeMetadata: c.Export.IncludeMetadata,
	}, nil
}
