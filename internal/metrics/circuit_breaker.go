package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fdusdk_circuit_breaker_state",
		Help: "Circuit breaker state by component (active state=1, others 0)",
	}, []string{"component", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdusdk_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker transitions to the open state",
	}, []string{"component"})
)

var circuitStates = []string{"closed", "half-open", "open"}

// SetCircuitBreakerState records the active circuit breaker state for a component.
func SetCircuitBreakerState(component, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(component, s).Set(value)
	}
}

// RecordCircuitBreakerTrip increments the trip counter when a breaker opens.
func RecordCircuitBreakerTrip(component string) {
	circuitBreakerTrips.WithLabelValues(component).Inc()
}
