// Package metrics exposes prometheus counters for payment, reminder and email activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courses"

// Metrics groups the counters shared by the server, worker and reminder CLI.
type Metrics struct {
	registry *prometheus.Registry

	WebhookOutcomes  *prometheus.CounterVec // outcome: applied, duplicate, unmatched, no_transition, failed, invalid_signature, ignored, error
	ReminderOutcomes *prometheus.CounterVec // kind, outcome: sent, skipped, error
	RateLimited      *prometheus.CounterVec // action
	EmailJobs        *prometheus.CounterVec // template, outcome: sent, retried
	OutboxRelayed    prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		WebhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_events_total",
			Help:      "Payment provider events by processing outcome.",
		}, []string{"outcome"}),
		ReminderOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Reminder emails by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"action"}),
		EmailJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_jobs_total",
			Help:      "Email jobs processed by the worker.",
		}, []string{"template", "outcome"}),
		OutboxRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_messages_relayed_total",
			Help:      "Payment events published from the outbox.",
		}),
	}
	reg.MustRegister(m.WebhookOutcomes, m.ReminderOutcomes, m.RateLimited, m.EmailJobs, m.OutboxRelayed)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
