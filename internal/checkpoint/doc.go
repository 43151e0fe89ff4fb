// Package checkpoint implements the durable state shared by the ingest and
// export pipelines: per-partition read checkpoints, the message records
// themselves, and per-scope export cursors.
//
// Records and their covering checkpoint are always committed in the same
// atomic Pebble batch, so an abrupt process termination can never separate
// them. Export cursors advance monotonically and independently of the ingest
// checkpoints.
package checkpoint
