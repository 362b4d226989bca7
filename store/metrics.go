package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	kvCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kv_commit_duration_seconds",
			Help:    "Duration of KV commit operations",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 0.2, 0.5, 1, 1.5, 2},
		},
		[]string{"operation"},
	)

	kvLockRetries = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kv_lock_retries",
			Help:    "Number of commit retries",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10, 20, 40, 80, 160, 320},
		},
		[]string{"operation", "status"},
	)

	kvCommitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kv_commit_failures_total",
			Help: "Total number of failed KV commit operations",
		},
		[]string{"operation", "error_type"},
	)

	recordsFetched = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_fetch_records",
			Help:    "Number of records scanned per list fetch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"kind"},
	)
)

// Collectors returns the store metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{kvCommitDuration, kvLockRetries, kvCommitFailures, recordsFetched}
}
