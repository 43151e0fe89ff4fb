package sink

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// bucketTime normalizes the record timestamp into the configured zone.
func bucketTime(ts time.Time, useLocal bool) time.Time {
	if useLocal {
		return ts.Local()
	}
	return ts.UTC()
}

// condensedPath returns <dir>/<YYYY-MM>/messages-<YYYY-MM>.<ext>.
func condensedPath(opts Options, ts time.Time) string {
	t := bucketTime(ts, opts.UseLocalTime)
	month := t.Format("2006-01")
	return filepath.Join(opts.Dir, month, fmt.Sprintf("messages-%s.%s", month, opts.Format))
}

// perMessagePath returns <dir>/<YYYY-MM>/<DD>/<timestamp>-<event_id>.<ext>.
func perMessagePath(opts Options, ts time.Time, eventID string) string {
	t := bucketTime(ts, opts.UseLocalTime)
	name := fmt.Sprintf("%s-%s.%s", t.Format("20060102T150405.000000000"), sanitizeID(eventID), opts.Format)
	return filepath.Join(opts.Dir, t.Format("2006-01"), t.Format("02"), name)
}

// sanitizeID strips path separators and other characters unsafe in file
// names from a source-assigned event id.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, id)
}
