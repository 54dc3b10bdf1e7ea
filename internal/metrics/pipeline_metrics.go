package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsExported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vecport_records_exported_total",
		Help: "Records written to the dataset, by source vendor",
	}, []string{"vendor"})

	RecordsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vecport_records_imported_total",
		Help: "Records written to the target vendor",
	}, []string{"vendor"})

	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vecport_records_skipped_total",
		Help: "Records skipped, by reason",
	}, []string{"reason"})

	BatchesRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vecport_batches_retried_total",
		Help: "Batch fetches or writes retried after a transient failure",
	})

	ChunkFlushDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vecport_chunk_flush_duration_seconds",
		Help:    "Time to durably flush one chunk (parquet write + metadata commit)",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	ChunkSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vecport_chunk_size_bytes",
		Help:    "Size of flushed parquet chunk files",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})

	SchemaFields = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vecport_schema_fields",
		Help: "Metadata fields declared in the evolving dataset schema",
	})
)
