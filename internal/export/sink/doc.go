// Package sink writes exported records to text, CSV, or JSON files, either
// condensed into month buckets or one file per record.
package sink
