// Package metrics exposes Prometheus collectors for billing events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder struct {
	registry       *prometheus.Registry
	sessions       *prometheus.CounterVec
	sessionMinutes prometheus.Histogram
	sales          *prometheus.CounterVec
	revenue        *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
	requests       *prometheus.HistogramVec
}

// New registers the collectors on a private registry alongside the Go and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcadepos",
			Name:      "gaming_sessions_total",
			Help:      "Gaming session transitions by resulting status.",
		}, []string{"status"}),
		sessionMinutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arcadepos",
			Name:      "gaming_session_minutes",
			Help:      "Billed minutes of finalized gaming sessions.",
			Buckets:   []float64{0, 15, 30, 60, 120, 240, 480},
		}),
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcadepos",
			Name:      "sales_total",
			Help:      "Sale transitions by resulting status.",
		}, []string{"status"}),
		revenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcadepos",
			Name:      "revenue_total",
			Help:      "Paid sale totals by currency.",
		}, []string{"currency"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcadepos",
			Name:      "commit_conflicts_total",
			Help:      "Billing commits rejected by a concurrent writer.",
		}, []string{"operation"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arcadepos",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.sessions, r.sessionMinutes, r.sales, r.revenue, r.conflicts, r.requests,
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// All methods are safe on a nil Recorder so metrics can be switched off.

func (r *Recorder) SessionTransition(status string, billedMinutes int64) {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues(status).Inc()
	if billedMinutes >= 0 && status == "completed" {
		r.sessionMinutes.Observe(float64(billedMinutes))
	}
}

func (r *Recorder) SaleTransition(status string) {
	if r == nil {
		return
	}
	r.sales.WithLabelValues(status).Inc()
}

func (r *Recorder) Revenue(currency string, amount float64) {
	if r == nil || amount <= 0 {
		return
	}
	r.revenue.WithLabelValues(currency).Add(amount)
}

func (r *Recorder) Conflict(operation string) {
	if r == nil {
		return
	}
	r.conflicts.WithLabelValues(operation).Inc()
}

func (r *Recorder) ObserveRequest(method string, status string, seconds float64) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, status).Observe(seconds)
}
