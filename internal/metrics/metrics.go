// Package metrics holds the responder's prometheus collectors. All methods
// are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "groupchat"

// Metrics is a set of collectors bound to a private registry.
type Metrics struct {
	registry *prometheus.Registry

	webhookRequests *prometheus.CounterVec
	tasks           *prometheus.CounterVec
	events          *prometheus.CounterVec
	replies         *prometheus.CounterVec
	llmLatency      prometheus.Histogram
}

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook requests by result.",
		}, []string{"result"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Dispatched tasks by result (ok, error, panic).",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Processed events by pipeline result.",
		}, []string{"result"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Reply attempts by routing mode and outcome.",
		}, []string{"mode", "outcome"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_seconds",
			Help:      "Latency of chat-completion requests.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}),
	}
	m.registry.MustRegister(
		m.webhookRequests,
		m.tasks,
		m.events,
		m.replies,
		m.llmLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterQueueDepth exposes fn as the dispatch queue depth gauge.
func (m *Metrics) RegisterQueueDepth(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_queue_depth",
		Help:      "Envelopes waiting for a dispatch worker.",
	}, func() float64 { return float64(fn()) }))
}

// WebhookRequest counts one webhook request.
func (m *Metrics) WebhookRequest(result string) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(result).Inc()
}

// Task counts one finished dispatch task.
func (m *Metrics) Task(result string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(result).Inc()
}

// Event counts one event leaving the pipeline.
func (m *Metrics) Event(result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(result).Inc()
}

// Reply counts one reply attempt.
func (m *Metrics) Reply(mode, outcome string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(mode, outcome).Inc()
}

// ObserveLLM records one completion request latency.
func (m *Metrics) ObserveLLM(d time.Duration) {
	if m == nil {
		return
	}
	m.llmLatency.Observe(d.Seconds())
}
