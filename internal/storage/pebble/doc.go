// Package pebblestore wraps cockroachdb/pebble with the durability policy and
// the small helper surface the rest of evtap depends on: point reads, atomic
// multi-key batches, and ordered prefix scans.
//
// The wrapper owns the fsync policy (always, interval group-commit, never)
// and funnels observations through an optional MetricsHook.
package pebblestore
