// Package metrics exposes Prometheus collectors for the SDK and daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	portalRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdusdk_portal_requests_total",
		Help: "Portal requests by portal, operation and outcome",
	}, []string{"portal", "operation", "outcome"}) // outcome=success|error

	portalRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fdusdk_portal_request_duration_seconds",
		Help:    "Portal request latency by portal and operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"portal", "operation"})

	loginTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdusdk_login_total",
		Help: "UIS login attempts by outcome",
	}, []string{"portal", "outcome"})
)

// ObservePortalRequest records one portal round trip.
func ObservePortalRequest(portal, operation string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	portalRequestsTotal.WithLabelValues(portal, operation, outcome).Inc()
	portalRequestDuration.WithLabelValues(portal, operation).Observe(d.Seconds())
}

// RecordLogin records a login attempt against the given portal.
func RecordLogin(portal string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	loginTotal.WithLabelValues(portal, outcome).Inc()
}
