package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the nearest-neighbor indexes.
type Metrics struct {
	// Build metrics
	BuildsTotal   *prometheus.CounterVec
	BuildDuration *prometheus.HistogramVec
	BuildErrors   *prometheus.CounterVec

	// Index shape metrics
	TreeSize   *prometheus.GaugeVec
	TreeHeight *prometheus.GaugeVec

	// Search metrics
	SearchesTotal    *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	SearchErrors     *prometheus.CounterVec
	SearchResultSize prometheus.Histogram

	// Batch query driver metrics
	BatchQueriesTotal  prometheus.Counter
	BatchDispatchDelay prometheus.Histogram
	WorkerPoolSize     prometheus.Gauge

	// Serialization metrics
	SerializeTotal    prometheus.Counter
	DeserializeTotal  prometheus.Counter
	SerializeDuration prometheus.Histogram
	SerializedBytes   prometheus.Histogram
	ChecksumFailures  prometheus.Counter

	// BK tree mutation metrics
	BKInsertsTotal    prometheus.Counter
	BKDuplicatesTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics creates and registers all Prometheus metrics. The default
// registry accepts each metric name only once per process, so repeated calls
// return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		BuildsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nnindex_builds_total",
				Help: "Total number of index builds by tree kind and metric",
			},
			[]string{"tree", "metric"},
		),
		BuildDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nnindex_build_duration_seconds",
				Help:    "Index build duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"tree", "metric"},
		),
		BuildErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nnindex_build_errors_total",
				Help: "Total number of failed index builds by tree kind and error kind",
			},
			[]string{"tree", "error_kind"},
		),

		TreeSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nnindex_tree_size",
				Help: "Number of stored examples or keys by tree kind",
			},
			[]string{"tree"},
		),
		TreeHeight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nnindex_tree_height",
				Help: "Height of the tree by tree kind",
			},
			[]string{"tree"},
		),

		SearchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nnindex_searches_total",
				Help: "Total number of searches by tree kind and operation (1nn, knn, threshold)",
			},
			[]string{"tree", "op"},
		),
		SearchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nnindex_search_duration_seconds",
				Help:    "Search duration in seconds by tree kind and operation",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"tree", "op"},
		),
		SearchErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nnindex_search_errors_total",
				Help: "Total number of failed searches by tree kind and error kind",
			},
			[]string{"tree", "error_kind"},
		),
		SearchResultSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nnindex_search_result_size",
				Help:    "Number of results returned per query",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 500},
			},
		),

		BatchQueriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nnindex_batch_queries_total",
				Help: "Total number of queries dispatched through the batch driver",
			},
		),
		BatchDispatchDelay: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nnindex_batch_dispatch_delay_seconds",
				Help:    "Time a query spent waiting on the rate limiter before dispatch",
				Buckets: []float64{0, .0001, .001, .01, .1, 1},
			},
		),
		WorkerPoolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nnindex_worker_pool_size",
				Help: "Configured batch driver worker pool size",
			},
		),

		SerializeTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nnindex_serialize_total",
				Help: "Total number of index serializations",
			},
		),
		DeserializeTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nnindex_deserialize_total",
				Help: "Total number of index deserializations",
			},
		),
		SerializeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nnindex_serialize_duration_seconds",
				Help:    "Serialization duration in seconds",
				Buckets: []float64{.0001, .001, .01, .1, 1, 5},
			},
		),
		SerializedBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nnindex_serialized_bytes",
				Help:    "Size in bytes of a serialized blob",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
		ChecksumFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nnindex_checksum_failures_total",
				Help: "Total number of CRC32 checksum failures on deserialize",
			},
		),

		BKInsertsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nnindex_bktree_inserts_total",
				Help: "Total number of BK tree Add calls",
			},
		),
		BKDuplicatesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nnindex_bktree_duplicates_total",
				Help: "Total number of BK tree Add calls that rejected an exact duplicate key",
			},
		),
	}
}

// RecordBuild records a successful index build.
func (m *Metrics) RecordBuild(tree, metric string, duration time.Duration) {
	m.BuildsTotal.WithLabelValues(tree, metric).Inc()
	m.BuildDuration.WithLabelValues(tree, metric).Observe(duration.Seconds())
}

// RecordBuildError records a failed index build.
func (m *Metrics) RecordBuildError(tree, errorKind string) {
	m.BuildErrors.WithLabelValues(tree, errorKind).Inc()
}

// UpdateTreeShape updates the size and height gauges for a tree kind.
func (m *Metrics) UpdateTreeShape(tree string, size, height int) {
	m.TreeSize.WithLabelValues(tree).Set(float64(size))
	m.TreeHeight.WithLabelValues(tree).Set(float64(height))
}

// RecordSearch records a completed search.
func (m *Metrics) RecordSearch(tree, op string, duration time.Duration, resultSize int) {
	m.SearchesTotal.WithLabelValues(tree, op).Inc()
	m.SearchDuration.WithLabelValues(tree, op).Observe(duration.Seconds())
	m.SearchResultSize.Observe(float64(resultSize))
}

// RecordSearchError records a failed search.
func (m *Metrics) RecordSearchError(tree, errorKind string) {
	m.SearchErrors.WithLabelValues(tree, errorKind).Inc()
}

// SetWorkerPoolSize reports the pool size the batch driver resolved for its
// most recent dispatch.
func (m *Metrics) SetWorkerPoolSize(n int) {
	m.WorkerPoolSize.Set(float64(n))
}

// RecordBatchQuery records one query dispatched through the batch driver,
// along with the delay it incurred waiting on a rate limiter (zero when
// none is configured).
func (m *Metrics) RecordBatchQuery(dispatchDelay time.Duration) {
	m.BatchQueriesTotal.Inc()
	m.BatchDispatchDelay.Observe(dispatchDelay.Seconds())
}

// RecordSerialize records a completed serialization.
func (m *Metrics) RecordSerialize(duration time.Duration, bytes int) {
	m.SerializeTotal.Inc()
	m.SerializeDuration.Observe(duration.Seconds())
	m.SerializedBytes.Observe(float64(bytes))
}

// RecordDeserialize records a completed deserialization.
func (m *Metrics) RecordDeserialize() {
	m.DeserializeTotal.Inc()
}

// RecordChecksumFailure records a CRC32 mismatch on deserialize.
func (m *Metrics) RecordChecksumFailure() {
	m.ChecksumFailures.Inc()
}

// RecordBKInsert records one BK tree Add call; duplicate marks a call whose
// key was rejected as an exact duplicate.
func (m *Metrics) RecordBKInsert(duplicate bool) {
	m.BKInsertsTotal.Inc()
	if duplicate {
		m.BKDuplicatesTotal.Inc()
	}
}
