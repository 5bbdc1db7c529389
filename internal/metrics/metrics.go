// Package metrics exposes Prometheus counters for the checkout flow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Checkout struct {
	initiated prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	CaptureMS prometheus.Histogram
}

func NewCheckout() *Checkout {
	m := &Checkout{
		initiated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shop", Subsystem: "checkout",
			Name: "initiated_total", Help: "Checkouts initiated.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shop", Subsystem: "checkout",
			Name: "completed_total", Help: "Checkouts completed (captured).",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shop", Subsystem: "checkout",
			Name: "failed_total", Help: "Checkouts cancelled or denied.",
		}),
		CaptureMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shop", Subsystem: "checkout",
			Name: "capture_duration_ms", Help: "Capture latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
	}
	prometheus.MustRegister(m.initiated, m.completed, m.failed, m.CaptureMS)
	return m
}

// Counter helpers are nil-safe so tests can run without a registry.

func (m *Checkout) Initiated() {
	if m != nil {
		m.initiated.Inc()
	}
}

func (m *Checkout) Completed() {
	if m != nil {
		m.completed.Inc()
	}
}

func (m *Checkout) Failed() {
	if m != nil {
		m.failed.Inc()
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
