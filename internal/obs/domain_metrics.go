package obs

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics groups the invoice-specific collectors. A nil *DomainMetrics
// is valid and records nothing.
type DomainMetrics struct {
	PreviewTotal     *prometheus.CounterVec
	SubmitTotal      *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	FeeTypeCache     *prometheus.CounterVec
}

// NewDomainMetrics creates and registers the domain collectors. Collectors
// that are already registered on reg are reused.
func NewDomainMetrics(namespace string, reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &DomainMetrics{
		PreviewTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_preview_total",
			Help:      "Count of invoice previews by redistribution method.",
		}, []string{"method"}),
		SubmitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_submit_total",
			Help:      "Count of invoice submissions by outcome.",
		}, []string{"result"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_ms",
			Help:      "Latency of calls to the invoicing backend in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation", "status"}),
		FeeTypeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_type_cache_total",
			Help:      "Fee type catalog cache lookups by result.",
		}, []string{"result"}),
	}
	mustRegisterCollector(reg, m.PreviewTotal, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.PreviewTotal = v
		}
	})
	mustRegisterCollector(reg, m.SubmitTotal, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.SubmitTotal = v
		}
	})
	mustRegisterCollector(reg, m.UpstreamDuration, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.HistogramVec); ok {
			m.UpstreamDuration = v
		}
	})
	mustRegisterCollector(reg, m.FeeTypeCache, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.FeeTypeCache = v
		}
	})
	return m
}

// Preview counts one preview computed with the given method label.
func (m *DomainMetrics) Preview(method string) {
	if m == nil {
		return
	}
	m.PreviewTotal.WithLabelValues(method).Inc()
}

// Submit counts one submission outcome.
func (m *DomainMetrics) Submit(result string) {
	if m == nil {
		return
	}
	m.SubmitTotal.WithLabelValues(result).Inc()
}

// Upstream observes the duration of one backend call.
func (m *DomainMetrics) Upstream(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(operation, status).Observe(DurationMillis(d))
}

// CacheLookup counts a fee type cache hit, miss or error.
func (m *DomainMetrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.FeeTypeCache.WithLabelValues(result).Inc()
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
