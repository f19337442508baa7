package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queryOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statline_query_outcomes_total",
			Help: "Total number of natural-language queries by final stage and error kind.",
		},
		[]string{"model", "stage", "kind"},
	)
	queryStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statline_query_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "statline_query_rows_returned",
			Help:    "Rows returned by successful queries.",
			Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		},
	)
	queryTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "statline_query_truncated_total",
			Help: "Total number of results cut at the executor row cap.",
		},
	)
	queriesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "statline_queries_in_flight",
			Help: "Queries currently being processed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queryOutcomesTotal,
		queryStageDurationSeconds,
		queryRowsReturned,
		queryTruncatedTotal,
		queriesInFlight,
	)
}

// ObserveQueryOutcome records the terminal state of one query. Successful
// queries use stage "completed" and an empty kind.
func ObserveQueryOutcome(model, stage, kind string) {
	queryOutcomesTotal.WithLabelValues(model, stage, kind).Inc()
}

func ObserveStageDuration(stage string, elapsed time.Duration) {
	queryStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveRowsReturned(rows int, truncated bool) {
	queryRowsReturned.Observe(float64(rows))
	if truncated {
		queryTruncatedTotal.Inc()
	}
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func TrackInFlight() func() {
	queriesInFlight.Inc()
	return queriesInFlight.Dec
}
