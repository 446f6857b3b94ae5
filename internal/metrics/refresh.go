package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdusdk_refresh_total",
		Help: "Refresh job runs by outcome",
	}, []string{"outcome"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fdusdk_refresh_duration_seconds",
		Help:    "Duration of complete refresh cycles",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
	})

	gradesKnown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fdusdk_grades_known",
		Help: "Number of course grades in the last snapshot",
	})

	gradesNewTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fdusdk_grades_new_total",
		Help: "Total number of newly published grades detected across refreshes",
	})
)

// ObserveRefresh records the outcome and duration of one refresh cycle.
func ObserveRefresh(d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	refreshTotal.WithLabelValues(outcome).Inc()
	refreshDuration.Observe(d.Seconds())
}

// SetGradesKnown records the snapshot size after a refresh.
func SetGradesKnown(n int) {
	gradesKnown.Set(float64(n))
}

// AddGradesNew counts grades that appeared for the first time.
func AddGradesNew(n int) {
	gradesNewTotal.Add(float64(n))
}
