package reconciliation

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	results *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rgs_reconcile_requests_total",
			Help: "Reconcile requests handled by result",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.results)
	}
	return m
}

func (m *Metrics) result(r string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(r).Inc()
}
