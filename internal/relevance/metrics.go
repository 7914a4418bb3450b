package relevance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// verdictsTotal counts gate decisions by outcome: keyword_pass,
// keyword_reject, classifier_pass, classifier_reject, classifier_fail_open.
var verdictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "knowledged",
		Subsystem: "relevance",
		Name:      "verdicts_total",
		Help:      "Total number of relevance gate verdicts by outcome",
	},
	[]string{"outcome"},
)

// RecordVerdict records one gate decision.
func RecordVerdict(outcome string) {
	verdictsTotal.WithLabelValues(outcome).Inc()
}
