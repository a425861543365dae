package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// TaxCalculationsTotal counts calculations by call site and outcome.
	TaxCalculationsTotal *prometheus.CounterVec
	// TaxCacheLookupsTotal counts calculation cache hits and misses.
	TaxCacheLookupsTotal *prometheus.CounterVec
	// TaxRemoteRequestsTotal counts remote tax calls by status class.
	TaxRemoteRequestsTotal *prometheus.CounterVec
	// TaxRemoteDuration records remote call latency in milliseconds.
	TaxRemoteDuration prometheus.Histogram
	// TaxRateReconciliationsTotal counts local rate records found, created and updated.
	TaxRateReconciliationsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers the tax collectors.
// Only the first call has an effect.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		TaxCalculationsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_calculations_total",
			Help:      "Count of tax calculations by site and outcome.",
		}, []string{"site", "outcome"}))
		TaxCacheLookupsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_cache_lookups_total",
			Help:      "Count of calculation cache lookups by result.",
		}, []string{"result"}))
		TaxRemoteRequestsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_remote_requests_total",
			Help:      "Count of remote tax calculation requests by status.",
		}, []string{"status"}))
		TaxRemoteDuration = registerOrReuse(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tax_remote_duration_ms",
			Help:      "Latency of remote tax calculation requests in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		}))
		TaxRateReconciliationsTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tax_rate_reconciliations_total",
			Help:      "Count of local tax rate reconciliations by action.",
		}, []string{"action"}))
	})
}

// ObserveCalculation increments the calculation counter when registered.
func ObserveCalculation(site, outcome string) {
	if TaxCalculationsTotal != nil {
		TaxCalculationsTotal.WithLabelValues(site, outcome).Inc()
	}
}

// ObserveCacheLookup increments the cache lookup counter when registered.
func ObserveCacheLookup(result string) {
	if TaxCacheLookupsTotal != nil {
		TaxCacheLookupsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveRemoteRequest records one remote call when registered.
func ObserveRemoteRequest(status string, millis float64) {
	if TaxRemoteRequestsTotal != nil {
		TaxRemoteRequestsTotal.WithLabelValues(status).Inc()
	}
	if TaxRemoteDuration != nil {
		TaxRemoteDuration.Observe(millis)
	}
}

// ObserveReconciliation increments the reconciliation counter when registered.
func ObserveReconciliation(action string) {
	if TaxRateReconciliationsTotal != nil {
		TaxRateReconciliationsTotal.WithLabelValues(action).Inc()
	}
}
