package evolution

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for outbound gateway calls.
// All metrics use the channel_platform_gateway_ prefix.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
}

// Outcome label values.
const (
	outcomeOK             = "ok"
	outcomeStatusError    = "status_error"
	outcomeTransportError = "transport_error"
)

// NewMetrics creates and registers gateway metrics on the given registry.
// Returns nil if reg is nil; a nil *Metrics records nothing.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channel_platform",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total gateway HTTP attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "channel_platform",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Gateway HTTP attempt duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		}, []string{"operation"}),

		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channel_platform",
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Total gateway retries by operation.",
		}, []string{"operation"}),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.RetriesTotal)
	return m
}

func (m *Metrics) observe(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(op, outcome).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) retry(op string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(op).Inc()
}
