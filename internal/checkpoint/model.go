package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// PartitionCheckpoint records the last durably processed position of one
// partition. SequenceNumber is monotonically non-decreasing and only the
// owning partition's reader updates it.
type PartitionCheckpoint struct {
	PartitionID    string    `json:"partition_id"`
	SequenceNumber uint64    `json:"sequence_number"`
	Offset         string    `json:"offset"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MessageRecord is one stored event, keyed by (partition, sequence).
type MessageRecord struct {
	EntityPath     string            `json:"entity_path"`
	PartitionID    string            `json:"partition_id"`
	EventID        string            `json:"event_id"`
	SequenceNumber uint64            `json:"sequence_number"`
	Offset         string            `json:"offset"`
	EnqueuedTime   time.Time         `json:"enqueued_time"`
	Content        []byte            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ExportCursor marks the last record flushed to an export sink for a scope.
// Every record at or before (LastPartition, LastSequence) in enumeration
// order has already been exported.
type ExportCursor struct {
	ScopeID       string `json:"scope_id"`
	LastPartition string `json:"last_exported_partition"`
	LastSequence  uint64 `json:"last_exported_sequence"`
}

// SynthEventID derives a stable event id when the source supplies none.
func SynthEventID(partition string, seq uint64) string {
	return fmt.Sprintf("%s-%d", partition, seq)
}

func encode(v interface{}) ([]byte, error) { return json.Marshal(v) }

func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("checkpoint: decode record: %w", err)
	}
	return nil
}

// Covers reports whether the cursor has already passed the given position in
// (partition, sequence) enumeration order. Partitions are compared the way
// ScanMessages enumerates them: as key bytes terminated by the separator.
// A plain string compare would disagree for ids where one is a prefix of the
// other ("1" vs "1-a": the '-' byte sorts before '/').
func (c ExportCursor) Covers(partition string, seq uint64) bool {
	if c.LastPartition == "" {
		return false
	}
	if partition != c.LastPartition {
		return partitionLess(partition, c.LastPartition)
	}
	return seq <= c.LastSequence
}
