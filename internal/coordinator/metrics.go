package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	transactions *prometheus.CounterVec
	replays      *prometheus.CounterVec
	lockWait     prometheus.Histogram
	sessions     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rgs_transactions_total",
			Help: "transações concluídas por tipo e status",
		}, []string{"type", "status"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rgs_transaction_replays_total",
			Help: "requisições respondidas a partir do ledger",
		}, []string{"type"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rgs_session_lock_wait_seconds",
			Help:    "espera pelo lock da sessão",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rgs_sessions_total",
			Help: "sessões por evento (created, expired, closed)",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(m.transactions, m.replays, m.lockWait, m.sessions)
	}
	return m
}

func (m *Metrics) transaction(kind, status string) {
	if m != nil {
		m.transactions.WithLabelValues(kind, status).Inc()
	}
}

func (m *Metrics) replay(kind string) {
	if m != nil {
		m.replays.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) waited(d time.Duration) {
	if m != nil {
		m.lockWait.Observe(d.Seconds())
	}
}

func (m *Metrics) session(event string) {
	if m != nil {
		m.sessions.WithLabelValues(event).Inc()
	}
}
