// Package metrics exposes Prometheus instrumentation for storage operations.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics holds the counters and histograms for one DB.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	opsTotal   *prometheus.CounterVec   // By collection, op and result
	opDuration *prometheus.HistogramVec // By collection and op
}

// New creates metrics registered on a fresh registry.
func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates metrics and registers them on reg.
func NewWithRegistry(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: reg,
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nestkv",
			Name:      "ops_total",
			Help:      "Total number of storage operations",
		}, []string{"collection", "op", "result"}),

		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nestkv",
			Name:      "op_duration_seconds",
			Help:      "Storage operation duration in seconds",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"collection", "op"}),
	}

	for _, c := range []prometheus.Collector{m.opsTotal, m.opDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one finished operation.
func (m *Metrics) Observe(collection, op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.opsTotal.WithLabelValues(collection, op, result).Inc()
	m.opDuration.WithLabelValues(collection, op).Observe(d.Seconds())
}

// Result returns the label for err, treating errors matching notFound as
// ResultNotFound.
func Result(err, notFound error) string {
	switch {
	case err == nil:
		return ResultOK
	case notFound != nil && errors.Is(err, notFound):
		return ResultNotFound
	default:
		return ResultError
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
