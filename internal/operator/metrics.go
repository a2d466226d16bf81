package operator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics das chamadas ao operador. Nil desliga tudo.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rgs_operator_attempts_total",
			Help: "tentativas de chamada ao operador por resultado",
		}, []string{"operator", "op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rgs_operator_attempt_duration_seconds",
			Help:    "duração de cada tentativa de chamada ao operador",
			Buckets: prometheus.DefBuckets,
		}, []string{"operator", "op"}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.duration)
	}
	return m
}

func (m *Metrics) observe(operator string, op Op, o Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(operator, string(op), o.String()).Inc()
	m.duration.WithLabelValues(operator, string(op)).Observe(d.Seconds())
}
