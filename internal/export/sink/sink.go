package sink

import (
	"fmt"
	"time"
)

// Format selects the serialization of exported records.
type Format string

const (
	FormatText Format = "txt"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a format string from configuration.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatCSV, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported export format %q (txt, csv, json)", s)
}

// Mode selects the file layout of exported records.
type Mode int

const (
	// ModeCondensed appends records into one file per month bucket.
	ModeCondensed Mode = iota
	// ModePerMessage writes one file per record, bucketed by month and day.
	ModePerMessage
)

// Record is one stored event as flattened for export.
type Record struct {
	EntityPath  string
	PartitionID string
	EventID     string
	Timestamp   time.Time
	Content     []byte
}

// Options configures where and how a sink writes.
type Options struct {
	Dir    string
	Format Format
	Mode   Mode
	// UseLocalTime buckets files by local wall time instead of UTC.
	UseLocalTime bool
	// IncludeMetadata emits entity, partition, event id and timestamp
	// alongside the content. Off, outputs carry the content only.
	IncludeMetadata bool
}

// Sink receives records in enumeration order. Flush makes everything written
// so far durable on disk; the export cursor only advances after a successful
// Flush.
type Sink interface {
	Write(rec Record) error
	Flush() error
	Close() error
}

// New builds a sink for the configured layout and format.
func New(opts Options) (Sink, error) {
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return nil, err
	}
	switch opts.Mode {
	case ModeCondensed:
		return newCondensed(opts), nil
	case ModePerMessage:
		return newPerMessage(opts), nil
	}
	return nil, fmt.Errorf("unsupported export mode %d", opts.Mode)
}
