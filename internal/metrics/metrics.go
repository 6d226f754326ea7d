package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coderunr"

// Evaluation outcomes
const (
	OutcomePassed            = "passed"
	OutcomeFailed            = "failed"
	OutcomeCompileError      = "compile_error"
	OutcomeConstructionError = "construction_error"
	OutcomeInternalError     = "internal_error"
)

var (
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluations_total",
		Help:      "Evaluations by outcome",
	}, []string{"outcome"})

	TestVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "test_verdicts_total",
		Help:      "Per test case verdicts by kind",
	}, []string{"verdict"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Time spent per evaluation stage",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"stage"})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "evaluations_in_flight",
		Help:      "Evaluations currently holding a worker slot",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	Waiting = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "evaluations_waiting",
		Help:      "Evaluations waiting for a worker slot",
	})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
