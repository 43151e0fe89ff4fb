package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestEventFromMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := &sarama.ConsumerMessage{
		Topic:     "hub",
		Partition: 3,
		Offset:    42,
		Timestamp: ts,
		Value:     []byte("payload"),
		Headers: []*sarama.RecordHeader{
			{Key: []byte("trace"), Value: []byte("abc")},
		},
	}
	ev := eventFromMessage(msg)
	if ev.SequenceNumber != 42 || ev.Offset != "42" {
		t.Fatalf("sequence/offset = %d/%s", ev.SequenceNumber, ev.Offset)
	}
	if !ev.EnqueuedTime.Equal(ts) {
		t.Fatalf("enqueued time = %v", ev.EnqueuedTime)
	}
	if string(ev.Body) != "payload" {
		t.Fatalf("body = %q", ev.Body)
	}
	if ev.Properties["trace"] != "abc" {
		t.Fatalf("properties = %v", ev.Properties)
	}
	if ev.EventID != "" {
		t.Fatalf("kafka assigns no event id; got %q", ev.EventID)
	}
}

func TestEventFromMessageNoHeaders(t *testing.T) {
	ev := eventFromMessage(&sarama.ConsumerMessage{Offset: 1})
	if ev.Properties != nil {
		t.Fatalf("expected nil properties, got %v", ev.Properties)
	}
}
