package checkpoint

import (
	"encoding/binary"
	"strings"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - cp/{entity}/{partition}
// - msg/{entity}/{partition}/{seq_be8}
// - cur/{scope}
//
// Message keys for one partition share a fixed-length prefix, so the 8-byte
// big-endian sequence suffix yields iteration in ingestion order per
// partition, and the partition segment yields a stable total order across
// partitions.

var (
	sep          = byte('/')
	cpPrefix     = []byte("cp/")
	msgPrefix    = []byte("msg/")
	cursorPrefix = []byte("cur/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// partitionLess reports whether partition a's message keys enumerate before
// partition b's. Appending the separator matches the stored key bytes, where
// every partition segment is terminated by it.
func partitionLess(a, b string) bool {
	return a+string(sep) < b+string(sep)
}

// ValidPartitionID reports whether a source partition id can be embedded in
// the keyspace. The separator byte is reserved.
func ValidPartitionID(partition string) bool {
	return partition != "" && !strings.ContainsRune(partition, rune(sep))
}

// KeyCheckpoint builds the per-partition checkpoint key.
func KeyCheckpoint(entity, partition string) []byte {
	k := make([]byte, 0, len(cpPrefix)+len(entity)+len(partition)+1)
	k = append(k, cpPrefix...)
	k = append(k, entity...)
	k = append(k, sep)
	k = append(k, partition...)
	return k
}

// KeyCheckpointPrefix returns the scan prefix for all checkpoints of an entity.
func KeyCheckpointPrefix(entity string) []byte {
	k := make([]byte, 0, len(cpPrefix)+len(entity)+1)
	k = append(k, cpPrefix...)
	k = append(k, entity...)
	k = append(k, sep)
	return k
}

// KeyMessage builds the message key with a big-endian sequence for proper ordering.
func KeyMessage(entity, partition string, seq uint64) []byte {
	k := make([]byte, 0, len(msgPrefix)+len(entity)+len(partition)+10)
	k = append(k, msgPrefix...)
	k = append(k, entity...)
	k = append(k, sep)
	k = append(k, partition...)
	k = append(k, sep)
	k = appendBE8(k, seq)
	return k
}

// KeyMessagePrefix returns the scan prefix for all messages of an entity.
func KeyMessagePrefix(entity string) []byte {
	k := make([]byte, 0, len(msgPrefix)+len(entity)+1)
	k = append(k, msgPrefix...)
	k = append(k, entity...)
	k = append(k, sep)
	return k
}

// KeyCursor builds the durable export cursor key for a scope.
func KeyCursor(scope string) []byte {
	k := make([]byte, 0, len(cursorPrefix)+len(scope))
	k = append(k, cursorPrefix...)
	k = append(k, scope...)
	return k
}
