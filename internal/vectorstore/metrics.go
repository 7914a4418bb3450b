package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// upsertsTotal counts upsert batches by result.
	upsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledged",
			Subsystem: "vectorstore",
			Name:      "upserts_total",
			Help:      "Total number of upsert batches by result",
		},
		[]string{"result"},
	)

	// upsertedRecords counts individual records written.
	upsertedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "knowledged",
			Subsystem: "vectorstore",
			Name:      "upserted_records_total",
			Help:      "Total number of vector records upserted",
		},
	)

	// queriesTotal counts similarity queries by result.
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowledged",
			Subsystem: "vectorstore",
			Name:      "queries_total",
			Help:      "Total number of similarity queries by result",
		},
		[]string{"result"},
	)

	// queryMatches observes match counts per query.
	queryMatches = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "knowledged",
			Subsystem: "vectorstore",
			Name:      "query_matches",
			Help:      "Number of matches returned per similarity query",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
)

// RecordUpsert records the outcome of an upsert batch.
func RecordUpsert(records int, err error) {
	if err != nil {
		upsertsTotal.WithLabelValues("error").Inc()
		return
	}
	upsertsTotal.WithLabelValues("success").Inc()
	upsertedRecords.Add(float64(records))
}

// RecordQuery records the outcome of a similarity query.
func RecordQuery(matches int, err error) {
	if err != nil {
		queriesTotal.WithLabelValues("error").Inc()
		return
	}
	queriesTotal.WithLabelValues("success").Inc()
	queryMatches.Observe(float64(matches))
}
