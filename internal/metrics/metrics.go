// Package metrics counts request outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OK          = "ok"
	NotModified = "not_modified"
	NotFound    = "not_found"
	TooLarge    = "too_large"
	Throttled   = "throttled"
	Unavailable = "unavailable"
	Failed      = "error"
)

// Recorder receives one observation per handled operation.
type Recorder interface {
	Observe(op, outcome string, elapsed time.Duration)
	Swept(n int)
}

// Noop discards observations.
type Noop struct{}

func (Noop) Observe(string, string, time.Duration) {}
func (Noop) Swept(int)                             {}

// Prometheus records into its own registry.
type Prometheus struct {
	registry *prometheus.Registry
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	swept    prometheus.Counter
}

// NewPrometheus builds a Prometheus recorder with Go runtime and process
// collectors registered next to the service metrics.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pbserver",
			Name:      "operations_total",
			Help:      "Paste operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pbserver",
			Name:      "operation_duration_seconds",
			Help:      "Time spent handling paste operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pbserver",
			Name:      "expired_keys_swept_total",
			Help:      "Expired keys removed by the janitor.",
		}),
	}
	p.registry.MustRegister(
		p.ops,
		p.latency,
		p.swept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) Observe(op, outcome string, elapsed time.Duration) {
	p.ops.WithLabelValues(op, outcome).Inc()
	p.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (p *Prometheus) Swept(n int) {
	if n > 0 {
		p.swept.Add(float64(n))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
