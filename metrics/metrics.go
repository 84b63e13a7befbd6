// Package metrics exposes the session server's Prometheus collectors.
// Absence of a scrape target never changes correctness; these are
// purely observability.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector groups every counter/gauge the session server updates.
type Collector struct {
	ActiveConnections prometheus.Gauge
	ActiveDocuments   prometheus.Gauge
	OpsBroadcast      prometheus.Counter
	OpsPersisted      prometheus.Counter
	AuthFailures      prometheus.Counter
	PresenceEvictions prometheus.Counter
}

// NewCollector creates and registers every collector against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crdtcollab",
			Name:      "active_connections",
			Help:      "Number of currently connected clients.",
		}),
		ActiveDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crdtcollab",
			Name:      "active_documents",
			Help:      "Number of documents with at least one joined connection.",
		}),
		OpsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtcollab",
			Name:      "ops_broadcast_total",
			Help:      "Total operations fanned out to peers.",
		}),
		OpsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtcollab",
			Name:      "ops_persisted_total",
			Help:      "Total operations written to the operation store.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtcollab",
			Name:      "auth_failures_total",
			Help:      "Total rejected authentication attempts.",
		}),
		PresenceEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtcollab",
			Name:      "presence_idle_evictions_total",
			Help:      "Total users evicted from presence tracking for being idle.",
		}),
	}
	reg.MustRegister(
		c.ActiveConnections,
		c.ActiveDocuments,
		c.OpsBroadcast,
		c.OpsPersisted,
		c.AuthFailures,
		c.PresenceEvictions,
	)
	return c
}
