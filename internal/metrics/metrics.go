// Package metrics exposes Prometheus instrumentation for the sync core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cache and refresh outcomes. A nil *Metrics is valid and
// records nothing, so wiring stays optional in tests.
type Metrics struct {
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	fetches         *prometheus.CounterVec
	partitionErrors prometheus.Counter
	lockContention  prometheus.Counter
	waitExhausted   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camsync_cache_hits_total",
			Help: "Snapshot reads served fresh from the cache.",
		}, []string{"resource"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camsync_cache_misses_total",
			Help: "Snapshot reads that required an origin refresh.",
		}, []string{"resource"}),
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camsync_origin_fetches_total",
			Help: "Completed origin fetches by resource and outcome.",
		}, []string{"resource", "outcome"}),
		partitionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "camsync_partition_errors_total",
			Help: "Per-bucket fetch failures that fell back to stale data.",
		}),
		lockContention: factory.NewCounter(prometheus.CounterOpts{
			Name: "camsync_lock_contention_total",
			Help: "Refreshes that lost the fetch lock and waited instead.",
		}),
		waitExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "camsync_wait_exhausted_total",
			Help: "Follower waits that gave up before the winner finished.",
		}),
	}
}

func (m *Metrics) CacheHit(resource string) {
	if m != nil {
		m.cacheHits.WithLabelValues(resource).Inc()
	}
}

func (m *Metrics) CacheMiss(resource string) {
	if m != nil {
		m.cacheMisses.WithLabelValues(resource).Inc()
	}
}

func (m *Metrics) FetchDone(resource string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(resource, outcome).Inc()
}

func (m *Metrics) PartitionError() {
	if m != nil {
		m.partitionErrors.Inc()
	}
}

func (m *Metrics) LockContention() {
	if m != nil {
		m.lockContention.Inc()
	}
}

func (m *Metrics) WaitExhausted() {
	if m != nil {
		m.waitExhausted.Inc()
	}
}
