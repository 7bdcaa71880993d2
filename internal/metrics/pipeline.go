package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ms2rank"

// Pipeline Prometheus metrics.
var (
	RankQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rank_queries_total",
			Help:      "Total number of ranked query spectra",
		},
		[]string{"status"}, // "ok" / "error" / "skipped"
	)

	RankQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rank_query_duration_seconds",
			Help:      "Per-query ranking duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	PreselectedCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "preselected_candidates",
			Help:      "Number of library spectra per query kept by preselection",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	CandidateSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_skips_total",
			Help:      "Candidates dropped before scoring",
		},
		[]string{"reason"},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of query embedding requests",
		},
		[]string{"space", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Query embedding duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"space"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Query embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

var pipelineMetricsRegistered bool

func pipelineCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		RankQueriesTotal,
		RankQueryDuration,
		PreselectedCandidates,
		CandidateSkipsTotal,
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingCacheTotal,
	}
}

// RegisterPipelineMetrics registers the ranking and embedding metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	for _, c := range pipelineCollectors() {
		prometheus.MustRegister(c)
	}
	pipelineMetricsRegistered = true
}

// RegisterPipelineMetricsOn registers the pipeline metrics on reg.
// Collectors already registered there are left as they are.
func RegisterPipelineMetricsOn(reg prometheus.Registerer) error {
	for _, c := range pipelineCollectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return fmt.Errorf("register pipeline metric: %w", err)
		}
	}
	return nil
}
