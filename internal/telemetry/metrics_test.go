package telemetry

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersByPartition(t *testing.T) {
	m, err := New("evtap_test", prom.NewRegistry())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	m.AddRead("0", 5)
	m.AddRead("1", 2)
	m.IncSkipped("0")
	m.IncDuplicated("1")
	m.AddExported(3)

	if got := testutil.ToFloat64(m.recordsRead.WithLabelValues("0")); got != 5 {
		t.Fatalf("read[0] = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.recordsRead.WithLabelValues("1")); got != 2 {
		t.Fatalf("read[1] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.recordsSkipped.WithLabelValues("0")); got != 1 {
		t.Fatalf("skipped[0] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.recordsExported); got != 3 {
		t.Fatalf("exported = %v, want 3", got)
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prom.NewRegistry()
	if _, err := New("evtap_dup", reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := New("evtap_dup", reg); err == nil {
		t.Fatal("second registration should fail")
	}
}

func TestStorageHook(t *testing.T) {
	m, err := New("evtap_hook", prom.NewRegistry())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	m.ObserveWrite(time.Millisecond, 64)
	m.ObserveRead(time.Millisecond, 64)
	m.ObserveBatchCommit(2*time.Millisecond, 10, 1024)

	if got := testutil.ToFloat64(m.storeBatchBytes); got != 1024 {
		t.Fatalf("batch bytes = %v, want 1024", got)
	}
}
