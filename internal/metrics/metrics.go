// Package metrics holds the Prometheus counters the session manager exports.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rauth"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

type Metrics struct {
	refresh       *prometheus.CounterVec
	callback      *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		callback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_total",
			Help:      "OAuth callbacks handled by callback kind and outcome.",
		}, []string{"kind", "outcome"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Storage failures swallowed by the storage adapter.",
		}, []string{"backend", "op"}),
	}
	if reg != nil {
		reg.MustRegister(m.refresh, m.callback, m.storageErrors)
	}
	return m
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Callback(kind, outcome string) {
	if m == nil {
		return
	}
	m.callback.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) StorageError(backend, op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(backend, op).Inc()
}
