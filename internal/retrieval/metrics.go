package retrieval

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledged_retrieval_queries_total",
		Help: "Retrieval queries, by outcome",
	}, []string{"outcome"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knowledged_retrieval_query_duration_seconds",
		Help:    "End-to-end retrieval latency",
		Buckets: prometheus.DefBuckets,
	})
)

func recordQuery(outcome string, d time.Duration) {
	queriesTotal.WithLabelValues(outcome).Inc()
	queryDuration.Observe(d.Seconds())
}
