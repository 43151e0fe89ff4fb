// Package consumer runs checkpointed partition readers over a partitioned
// event source, persisting records and per-partition checkpoints atomically.
package consumer
