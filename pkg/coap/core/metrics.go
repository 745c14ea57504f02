package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the domain-stack instrumentation surface for the exchange
// engine: counters and gauges an operator would scrape alongside any other
// service, grounded on nabbar-golib's direct use of
// github.com/prometheus/client_golang.
type Metrics struct {
	Retransmits     prometheus.Counter
	Timeouts        prometheus.Counter
	Rejections      prometheus.Counter
	DuplicatesFound prometheus.Counter
	ActiveExchanges prometheus.Gauge
	Notifications   prometheus.Counter
}

// NewMetrics registers a fresh set of collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test endpoints.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coap_client",
			Name:      "retransmits_total",
			Help:      "Total number of CON request retransmissions sent.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coap_client",
			Name:      "timeouts_total",
			Help:      "Total number of exchanges that exhausted their retransmit or NON lifetime budget.",
		}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coap_client",
			Name:      "rejections_total",
			Help:      "Total number of exchanges terminated by a peer RST.",
		}),
		DuplicatesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coap_client",
			Name:      "duplicate_datagrams_total",
			Help:      "Total number of inbound datagrams recognized as retransmissions.",
		}),
		ActiveExchanges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coap_client",
			Name:      "active_exchanges",
			Help:      "Number of exchanges currently tracked by the engine.",
		}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coap_client",
			Name:      "observe_notifications_total",
			Help:      "Total number of observe notifications delivered to callers.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Retransmits, m.Timeouts, m.Rejections, m.DuplicatesFound, m.ActiveExchanges, m.Notifications)
	}
	return m
}
