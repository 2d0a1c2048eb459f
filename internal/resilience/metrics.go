package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	// BreakerState is 0 closed, 1 open, 2 half-open per backend target.
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "upstream_breaker_state",
		Help: "Circuit breaker position per upstream target (0 closed, 1 open, 2 half-open).",
	}, []string{"target"})

	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_breaker_transitions_total",
		Help: "Circuit breaker state changes.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_breaker_opened_total",
		Help: "Times the circuit breaker tripped open.",
	}, []string{"target"})
)

// RegisterMetrics adds the breaker collectors to reg. The collectors are
// updated whether or not they are registered.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
