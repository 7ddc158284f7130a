// Package metrics records nexbot counters in a Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the bot's counters. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	registry         *prometheus.Registry
	messagesTotal    *prometheus.CounterVec
	ordersTotal      *prometheus.CounterVec
	broadcastsTotal  *prometheus.CounterVec
	upstreamErrors   *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	jobRuns          *prometheus.CounterVec
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		messagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexbot_messages_total",
				Help: "Inbound messages by route (admin, urgent, workflow, group, error)",
			},
			[]string{"route"},
		),
		ordersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexbot_orders_total",
				Help: "Order workflow outcomes (confirmed, cancelled)",
			},
			[]string{"outcome"},
		),
		broadcastsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexbot_broadcast_messages_total",
				Help: "Broadcast deliveries by status",
			},
			[]string{"status"},
		),
		upstreamErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexbot_upstream_errors_total",
				Help: "Failed calls to external services",
			},
			[]string{"service"},
		),
		upstreamDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexbot_upstream_duration_seconds",
				Help:    "Duration of calls to external services",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		jobRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexbot_job_runs_total",
				Help: "Scheduled job runs by job and status",
			},
			[]string{"job", "status"},
		),
	}
}

// Registry returns the registry backing the Recorder, for the /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Message counts an inbound message taking route.
func (r *Recorder) Message(route string) {
	if r == nil {
		return
	}
	r.messagesTotal.WithLabelValues(route).Inc()
}

// Order counts an order workflow outcome.
func (r *Recorder) Order(outcome string) {
	if r == nil {
		return
	}
	r.ordersTotal.WithLabelValues(outcome).Inc()
}

// Broadcast counts sent and failed broadcast deliveries.
func (r *Recorder) Broadcast(sent, failed int) {
	if r == nil {
		return
	}
	r.broadcastsTotal.WithLabelValues("sent").Add(float64(sent))
	r.broadcastsTotal.WithLabelValues("failed").Add(float64(failed))
}

// Upstream records one call to service, counting it as an error when err is set.
func (r *Recorder) Upstream(service string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.upstreamDuration.WithLabelValues(service).Observe(d.Seconds())
	if err != nil {
		r.upstreamErrors.WithLabelValues(service).Inc()
	}
}

// Job counts a scheduled job run.
func (r *Recorder) Job(name string, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.jobRuns.WithLabelValues(name, status).Inc()
}
