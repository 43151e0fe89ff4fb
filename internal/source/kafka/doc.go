// Package kafka implements the partitioned event source contract over
// Kafka using sarama partition consumers with explicit offsets, so resume
// positions come from the local checkpoint store rather than consumer-group
// coordination.
package kafka
