package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// csvColumns is the column layout shared by both sink modes.
func csvColumns(opts Options) []string {
	if !opts.IncludeMetadata {
		return []string{"message_content"}
	}
	return []string{"entity_path", "partition_id", "event_id", "timestamp", "message_content"}
}

// jsonRecord is the serialized form of a record in JSON outputs with
// metadata enabled.
type jsonRecord struct {
	EntityPath     string    `json:"entity_path"`
	PartitionID    string    `json:"partition_id"`
	EventID        string    `json:"event_id"`
	Timestamp      time.Time `json:"timestamp"`
	MessageContent string    `json:"message_content"`
}

type jsonContent struct {
	MessageContent string `json:"message_content"`
}

func jsonValue(opts Options, rec Record) interface{} {
	if !opts.IncludeMetadata {
		return jsonContent{MessageContent: string(rec.Content)}
	}
	return jsonRecord{
		EntityPath:     rec.EntityPath,
		PartitionID:    rec.PartitionID,
		EventID:        rec.EventID,
		Timestamp:      rec.Timestamp,
		MessageContent: string(rec.Content),
	}
}

// condensed appends records into one file per month bucket. Text and CSV
// buckets are opened in append mode and flushed in place; JSON buckets carry
// a whole array per file and are rewritten atomically on Flush.
type condensed struct {
	opts Options

	files   map[string]*bucketFile
	pending map[string][]json.RawMessage
}

type bucketFile struct {
	f   *os.File
	csv *csv.Writer
}

func newCondensed(opts Options) *condensed {
	return &condensed{
		opts:    opts,
		files:   map[string]*bucketFile{},
		pending: map[string][]json.RawMessage{},
	}
}

func (s *condensed) Write(rec Record) error {
	path := condensedPath(s.opts, rec.Timestamp)
	if s.opts.Format == FormatJSON {
		raw, err := json.Marshal(jsonValue(s.opts, rec))
		if err != nil {
			return err
		}
		s.pending[path] = append(s.pending[path], raw)
		return nil
	}

	bf, err := s.open(path)
	if err != nil {
		return err
	}
	switch s.opts.Format {
	case FormatText:
		if !s.opts.IncludeMetadata {
			_, err := fmt.Fprintf(bf.f, "%s\n", rec.Content)
			return err
		}
		return writeFramedText(bf.f, rec)
	case FormatCSV:
		return bf.csv.Write(csvRow(s.opts, rec))
	}
	return fmt.Errorf("unsupported export format %q", s.opts.Format)
}

func (s *condensed) open(path string) (*bucketFile, error) {
	if bf, ok := s.files[path]; ok {
		return bf, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	bf := &bucketFile{f: f}
	if s.opts.Format == FormatCSV {
		bf.csv = csv.NewWriter(f)
		// Header only when the bucket file is fresh; appended runs reuse it.
		if info, err := f.Stat(); err == nil && info.Size() == 0 {
			if err := bf.csv.Write(csvColumns(s.opts)); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	s.files[path] = bf
	return bf, nil
}

func (s *condensed) Flush() error {
	for path, bf := range s.files {
		if bf.csv != nil {
			bf.csv.Flush()
			if err := bf.csv.Error(); err != nil {
				return fmt.Errorf("flush %s: %w", path, err)
			}
		}
		if err := bf.f.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", path, err)
		}
	}
	for path, recs := range s.pending {
		if err := mergeJSONBucket(path, recs); err != nil {
			return err
		}
		delete(s.pending, path)
	}
	return nil
}

func (s *condensed) Close() error {
	err := s.Flush()
	for _, bf := range s.files {
		if cerr := bf.f.Close(); err == nil {
			err = cerr
		}
	}
	s.files = map[string]*bucketFile{}
	return err
}

// mergeJSONBucket appends recs to the JSON array stored at path, writing the
// merged array through a temp file so a crash never leaves a truncated
// bucket.
func mergeJSONBucket(path string, recs []json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var all []json.RawMessage
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) > 0 {
			if uerr := json.Unmarshal(data, &all); uerr != nil {
				return fmt.Errorf("existing bucket %s is not a JSON array: %w", path, uerr)
			}
		}
	case os.IsNotExist(err):
	default:
		return err
	}
	all = append(all, recs...)

	out, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func csvRow(opts Options, rec Record) []string {
	if !opts.IncludeMetadata {
		return []string{string(rec.Content)}
	}
	return []string{
		rec.EntityPath,
		rec.PartitionID,
		rec.EventID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		string(rec.Content),
	}
}

// writeFramedText emits a one-line metadata header followed by the raw
// content and a blank separator line.
func writeFramedText(f *os.File, rec Record) error {
	_, err := fmt.Fprintf(f, "=== %s/%s id=%s ts=%s ===\n%s\n\n",
		rec.EntityPath, rec.PartitionID, rec.EventID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Content)
	return err
}
