// Package metrics holds the Prometheus collectors of the access layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_request_attempts_total",
		Help: "Network attempts issued by the request executor",
	}, []string{"method"})

	requestOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_request_outcomes_total",
		Help: "Final outcome of logical requests",
	}, []string{
		"kind", // ok|timeout|network_unreachable|unauthorized|...
	})

	endpointProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_endpoint_probes_total",
		Help: "Endpoint discovery probe sequences",
	}, []string{"result"}) // found|unreachable

	endpointInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civic_endpoint_invalidations_total",
		Help: "Cached endpoints dropped after connectivity failures",
	})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civic_submissions_total",
		Help: "Report submissions by result",
	}, []string{"result"}) // success|degraded_success|failure
)

// Submission results
const (
	SubmissionSuccess         = "success"
	SubmissionDegradedSuccess = "degraded_success"
	SubmissionFailure         = "failure"
)

func ObserveAttempt(method string) {
	requestAttemptsTotal.WithLabelValues(method).Inc()
}

// ObserveOutcome records the final outcome; kind is empty on success.
func ObserveOutcome(kind string) {
	if kind == "" {
		kind = "ok"
	}
	requestOutcomesTotal.WithLabelValues(kind).Inc()
}

func ObserveProbe(found bool) {
	result := "unreachable"
	if found {
		result = "found"
	}
	endpointProbesTotal.WithLabelValues(result).Inc()
}

func ObserveInvalidation() {
	endpointInvalidationsTotal.Inc()
}

func ObserveSubmission(result string) {
	submissionsTotal.WithLabelValues(result).Inc()
}
