// Package metrics holds the Prometheus collectors shared by the three services.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry      *prometheus.Registry
	httpDuration  *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	schedulerRuns *prometheus.CounterVec
	outbound      *prometheus.HistogramVec
}

func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "Latency of inbound HTTP requests.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "payment_state_transitions_total",
			Help:        "State transitions of transactions, sessions and orders.",
			ConstLabels: labels,
		}, []string{"entity", "status"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "scheduler_items_total",
			Help:        "Items handled by background reconciliation jobs.",
			ConstLabels: labels,
		}, []string{"job", "result"}),
		outbound: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "outbound_request_duration_seconds",
			Help:        "Latency of calls to other services.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"target", "outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpDuration,
		m.transitions,
		m.schedulerRuns,
		m.outbound,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) Transition(entity, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, status).Inc()
}

func (m *Metrics) SchedulerItem(job, result string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(job, result).Inc()
}

func (m *Metrics) ObserveOutbound(target string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.outbound.WithLabelValues(target, outcome).Observe(d.Seconds())
}
