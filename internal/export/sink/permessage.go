package sink

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// perMessage writes one file per record. Each file is complete at Write
// time, so Flush has nothing buffered to push.
type perMessage struct {
	opts Options
}

func newPerMessage(opts Options) *perMessage {
	return &perMessage{opts: opts}
}

func (s *perMessage) Write(rec Record) error {
	path := perMessagePath(s.opts, rec.Timestamp, rec.EventID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var body []byte
	switch s.opts.Format {
	case FormatText:
		body = rec.Content
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(csvColumns(s.opts)); err != nil {
			return err
		}
		if err := w.Write(csvRow(s.opts, rec)); err != nil {
			return err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		body = buf.Bytes()
	case FormatJSON:
		out, err := json.MarshalIndent(jsonValue(s.opts, rec), "", "  ")
		if err != nil {
			return err
		}
		body = out
	default:
		return fmt.Errorf("unsupported export format %q", s.opts.Format)
	}
	return os.WriteFile(path, body, 0o644)
}

func (s *perMessage) Flush() error { return nil }

func (s *perMessage) Close() error { return nil }
