package telemetry

import (
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes run counters and storage observations to Prometheus. All
// methods are safe for concurrent use and cheap enough to call per record.
type Metrics struct {
	recordsRead       *prom.CounterVec
	recordsSkipped    *prom.CounterVec
	recordsDuplicated *prom.CounterVec
	recordsExported   prom.Counter

	storeWrites      prom.Histogram
	storeReads       prom.Histogram
	storeBatchCommit prom.Histogram
	storeBatchOps    prom.Histogram
	storeBatchBytes  prom.Counter
}

// New builds the metric set under the given namespace and registers it with
// reg. A nil reg registers against the default registry. Registering the same
// namespace twice returns an error.
func New(namespace string, reg prom.Registerer) (*Metrics, error) {
	m := &Metrics{
		recordsRead: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Records committed to the store, per partition.",
		}, []string{"partition"}),
		recordsSkipped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Records rejected by the content filter, per partition.",
		}, []string{"partition"}),
		recordsDuplicated: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "records_duplicated_total",
			Help:      "Redelivered records dropped by key collision, per partition.",
		}, []string{"partition"}),
		recordsExported: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "records_exported_total",
			Help:      "Records flushed to export sinks.",
		}),
		storeWrites: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "store_write_duration_seconds",
			Help:      "Latency of single-key store writes.",
		}),
		storeReads: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "store_read_duration_seconds",
			Help:      "Latency of single-key store reads.",
		}),
		storeBatchCommit: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "store_batch_commit_duration_seconds",
			Help:      "Latency of atomic batch commits.",
		}),
		storeBatchOps: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "store_batch_ops",
			Help:      "Operations per committed batch.",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		}),
		storeBatchBytes: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_batch_bytes_total",
			Help:      "Bytes committed through atomic batches.",
		}),
	}

	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	collectors := []prom.Collector{
		m.recordsRead,
		m.recordsSkipped,
		m.recordsDuplicated,
		m.recordsExported,
		m.storeWrites,
		m.storeReads,
		m.storeBatchCommit,
		m.storeBatchOps,
		m.storeBatchBytes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddRead counts n committed records for the partition.
func (m *Metrics) AddRead(partition string, n int) {
	m.recordsRead.WithLabelValues(partition).Add(float64(n))
}

// IncSkipped counts a filter rejection for the partition.
func (m *Metrics) IncSkipped(partition string) {
	m.recordsSkipped.WithLabelValues(partition).Inc()
}

// IncDuplicated counts a dropped redelivery for the partition.
func (m *Metrics) IncDuplicated(partition string) {
	m.recordsDuplicated.WithLabelValues(partition).Inc()
}

// AddExported counts n records flushed to a sink.
func (m *Metrics) AddExported(n int) {
	m.recordsExported.Add(float64(n))
}

// ObserveWrite implements the storage metrics hook.
func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storeWrites.Observe(elapsed.Seconds())
}

// ObserveRead implements the storage metrics hook.
func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storeReads.Observe(elapsed.Seconds())
}

// ObserveBatchCommit implements the storage metrics hook.
func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	m.storeBatchCommit.Observe(elapsed.Seconds())
	m.storeBatchOps.Observe(float64(numOps))
	m.storeBatchBytes.Add(float64(bytes))
}

// Expose serves /metrics on the given port in the background. A port of
// zero disables the listener.
func Expose(port int) {
	if port <= 0 {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
