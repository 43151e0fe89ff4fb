// Package export streams stored records into file sinks behind a monotonic,
// crash-safe export cursor.
package export
