package sink

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testTime = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

func rec(id, content string) Record {
	return Record{
		EntityPath:  "orders",
		PartitionID: "0",
		EventID:     id,
		Timestamp:   testTime,
		Content:     []byte(content),
	}
}

func TestParseFormat(t *testing.T) {
	for _, ok := range []string{"txt", "csv", "json"} {
		if _, err := ParseFormat(ok); err != nil {
			t.Fatalf("ParseFormat(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "xml", "TXT"} {
		if _, err := ParseFormat(bad); err == nil {
			t.Fatalf("ParseFormat(%q) should fail", bad)
		}
	}
}

func TestCondensedTextBucket(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Format: FormatText, Mode: ModeCondensed, IncludeMetadata: true})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := s.Write(rec("0-1", "hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(rec("0-2", "world")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	path := filepath.Join(dir, "2024-03", "messages-2024-03.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read bucket: %v", err)
	}
	for _, want := range []string{"hello", "world", "orders/0 id=0-1"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("bucket missing %q:\n%s", want, data)
		}
	}
}

func TestCondensedCSVHeaderOncePerFile(t *testing.T) {
	dir := t.TempDir()

	// Two sink lifetimes appending to the same bucket.
	for run := 0; run < 2; run++ {
		s, err := New(Options{Dir: dir, Format: FormatCSV, Mode: ModeCondensed, IncludeMetadata: true})
		if err != nil {
			t.Fatalf("new sink: %v", err)
		}
		if err := s.Write(rec("0-1", "a,b")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "2024-03", "messages-2024-03.csv"))
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2 records", len(rows))
	}
	if rows[0][0] != "entity_path" || rows[0][4] != "message_content" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][4] != "a,b" {
		t.Fatalf("content not quoted through csv: %v", rows[1])
	}
}

func TestCondensedJSONMergesAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	for run, content := range []string{"first", "second"} {
		s, err := New(Options{Dir: dir, Format: FormatJSON, Mode: ModeCondensed, IncludeMetadata: true})
		if err != nil {
			t.Fatalf("new sink: %v", err)
		}
		if err := s.Write(rec("0-1", content)); err != nil {
			t.Fatalf("run %d write: %v", run, err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("run %d close: %v", run, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "2024-03", "messages-2024-03.json"))
	if err != nil {
		t.Fatalf("read bucket: %v", err)
	}
	var got []jsonRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("bucket is not a JSON array: %v", err)
	}
	if len(got) != 2 || got[0].MessageContent != "first" || got[1].MessageContent != "second" {
		t.Fatalf("unexpected merged bucket: %+v", got)
	}
}

func TestCondensedJSONPendingUntilFlush(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Format: FormatJSON, Mode: ModeCondensed})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := s.Write(rec("0-1", "x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	path := filepath.Join(dir, "2024-03", "messages-2024-03.json")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("bucket should not exist before Flush")
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("bucket missing after flush: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPerMessageLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Format: FormatJSON, Mode: ModePerMessage, IncludeMetadata: true})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := s.Write(rec("0-42", "payload")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "2024-03", "15", "*-0-42.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("per-message file not found: matches=%v err=%v", matches, err)
	}
	data, _ := os.ReadFile(matches[0])
	var got jsonRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.EventID != "0-42" || got.MessageContent != "payload" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestPerMessageTextIsRawContent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Format: FormatText, Mode: ModePerMessage})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := s.Write(rec("0-1", "raw body")); err != nil {
		t.Fatalf("write: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "2024-03", "15", "*.txt"))
	if len(matches) != 1 {
		t.Fatalf("expected one file, got %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	if string(data) != "raw body" {
		t.Fatalf("content = %q, want raw body only", data)
	}
}

func TestCondensedTextContentOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Format: FormatText, Mode: ModeCondensed})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := s.Write(rec("0-1", "hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(rec("0-2", "world")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2024-03", "messages-2024-03.txt"))
	if err != nil {
		t.Fatalf("read bucket: %v", err)
	}
	if string(data) != "hello\nworld\n" {
		t.Fatalf("bucket = %q, want bare content lines", data)
	}
}

func TestCondensedCSVContentOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Format: FormatCSV, Mode: ModeCondensed})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := s.Write(rec("0-1", "a,b")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "2024-03", "messages-2024-03.csv"))
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 || len(rows[0]) != 1 || len(rows[1]) != 1 {
		t.Fatalf("rows = %v, want single-column header + record", rows)
	}
	if rows[0][0] != "message_content" || rows[1][0] != "a,b" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestPerMessageJSONContentOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{Dir: dir, Format: FormatJSON, Mode: ModePerMessage})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := s.Write(rec("0-7", "payload")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "2024-03", "15", "*-0-7.json"))
	if len(matches) != 1 {
		t.Fatalf("expected one file, got %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 1 || got["message_content"] != "payload" {
		t.Fatalf("record = %v, want only message_content", got)
	}
}

func TestSanitizeID(t *testing.T) {
	if got := sanitizeID(`a/b\c:d?e`); got != "a_b_c_d_e" {
		t.Fatalf("sanitizeID = %q", got)
	}
}
