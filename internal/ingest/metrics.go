package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledged_ingest_documents_total",
		Help: "Documents processed by the ingestion pipeline, by final state",
	}, []string{"state"})

	documentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knowledged_ingest_document_duration_seconds",
		Help:    "End-to-end processing time per document",
		Buckets: prometheus.DefBuckets,
	})

	chunksPerDocument = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knowledged_ingest_chunks_per_document",
		Help:    "Chunks produced per ingested document",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
)

func recordDocument(state string, d time.Duration) {
	documentsTotal.WithLabelValues(state).Inc()
	documentDuration.Observe(d.Seconds())
}

func recordChunks(n int) {
	chunksPerDocument.Observe(float64(n))
}
