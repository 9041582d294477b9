// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_calls_total",
			Help: "Total number of generation calls issued per backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	BackendCallRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_call_retries_total",
			Help: "Total number of retry attempts per backend",
		},
		[]string{"backend"},
	)

	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "backend_call_duration_seconds",
			Help: "Duration of a single logical backend call including retries",
		},
		[]string{"backend"},
	)

	DiscussionTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discussion_turns_total",
			Help: "Total participant turns recorded per backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	DiscussionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "discussions_active",
			Help: "Number of discussion sessions currently running",
		},
	)

	SearchCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_candidates_total",
			Help: "Total candidates generated per backend and validity",
		},
		[]string{"backend", "valid"},
	)
)
