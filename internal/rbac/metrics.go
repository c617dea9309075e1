package rbac

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the decision cache and checks.
type Metrics struct {
	cacheLookups  *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	decisions     *prometheus.CounterVec
}

// NewMetrics registers the RBAC collectors against registerer. A nil
// registerer yields collectors that are not exported anywhere.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkboard_rbac_cache_lookups_total",
			Help: "Decision cache lookups by result (hit, miss, stale).",
		}, []string{"result"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkboard_rbac_cache_invalidations_total",
			Help: "Decision cache invalidations by scope (user, all).",
		}, []string{"scope"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkboard_rbac_decisions_total",
			Help: "Authorization decisions by check kind and outcome.",
		}, []string{"check", "outcome"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.cacheLookups, m.invalidations, m.decisions)
	}
	return m
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) invalidated(scope string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(scope).Inc()
}

func (m *Metrics) decision(check string, allowed bool, err error) {
	if m == nil {
		return
	}
	outcome := "deny"
	switch {
	case err != nil:
		outcome = "error"
	case allowed:
		outcome = "allow"
	}
	m.decisions.WithLabelValues(check, outcome).Inc()
}
