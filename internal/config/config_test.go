package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rzbill/evtap/internal/export/sink"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir == "" || cfg.DatabasePath == "" {
		t.Fatalf("data paths not defaulted: %+v", cfg)
	}
	if cfg.FeedbackInterval != time.Second {
		t.Fatalf("feedback interval = %v, want 1s", cfg.FeedbackInterval)
	}
	if cfg.Export.Format != "txt" || cfg.Kafka.MaxBatch != 256 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("log defaults: %+v", cfg.Log)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evtap.yaml")
	yaml := `
entity: orders
partition_id: "3"
filters: [error, warn]
ignore_checkpoint: true
feedback_interval: 5s
kafka:
  brokers: ["k1:9092", "k2:9092"]
  version: 3.6.0
export:
  format: csv
  per_message: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Entity != "orders" || cfg.PartitionID != "3" {
		t.Fatalf("entity block: %+v", cfg)
	}
	if len(cfg.Filters) != 2 || cfg.Filters[1] != "warn" {
		t.Fatalf("filters: %v", cfg.Filters)
	}
	if !cfg.IgnoreCheckpoint || cfg.FeedbackInterval != 5*time.Second {
		t.Fatalf("run block: %+v", cfg)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Version != "3.6.0" {
		t.Fatalf("kafka block: %+v", cfg.Kafka)
	}
	if cfg.Export.Format != "csv" || !cfg.Export.PerMessage {
		t.Fatalf("export block: %+v", cfg.Export)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Export.Format != "txt" {
		t.Fatalf("defaults not applied: %+v", cfg.Export)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{Entity: "orders"}
		applyDefaults(&c)
		return c
	}

	if err := func() error { c := valid(); return c.Validate() }(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	c := valid()
	c.Entity = ""
	if err := c.Validate(); err == nil {
		t.Fatal("missing entity should fail")
	}

	c = valid()
	c.Export.Format = "xml"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("bad format error = %v", err)
	}

	c = valid()
	c.FeedbackInterval = -time.Second
	if err := c.Validate(); err == nil {
		t.Fatal("negative feedback interval should fail")
	}

	c = valid()
	if err := c.ValidateSource(); err == nil {
		t.Fatal("missing brokers should fail source validation")
	}
	c.Kafka.Brokers = []string{"localhost:9092"}
	if err := c.ValidateSource(); err != nil {
		t.Fatalf("brokers set: %v", err)
	}
}

func TestSinkOptions(t *testing.T) {
	c := Config{Entity: "orders"}
	applyDefaults(&c)
	c.Export.Format = "json"
	c.Export.PerMessage = true
	c.Export.UseLocalTime = true
	c.Export.IncludeMetadata = true

	opts, err := c.SinkOptions()
	if err != nil {
		t.Fatalf("sink options: %v", err)
	}
	if opts.Format != sink.FormatJSON || opts.Mode != sink.ModePerMessage || !opts.UseLocalTime {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if !opts.IncludeMetadata {
		t.Fatalf("include_metadata not carried: %+v", opts)
	}
}

func TestDefaultDataDir(t *testing.T) {
	dir := DefaultDataDir()
	if dir == "" {
		t.Fatal("empty data dir")
	}
	if !strings.Contains(strings.ToLower(dir), "evtap") && dir != "./data" {
		t.Fatalf("data dir %q should name the application", dir)
	}
	if strings.HasPrefix(dir, "/var/lib") {
		t.Fatalf("data dir %q should stay user-writable", dir)
	}
}

func TestDefaultDataDirXDGOverride(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", filepath.Join(t.TempDir(), "share"))
	want := filepath.Join(os.Getenv("XDG_DATA_HOME"), "evtap")
	if got := DefaultDataDir(); got != want {
		t.Fatalf("data dir = %q, want %q", got, want)
	}
}
