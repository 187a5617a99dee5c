package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector kernelctx records.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TemplateRenders *prometheus.CounterVec
	ExecutorCalls   *prometheus.HistogramVec
	RelayEvents     *prometheus.CounterVec
	StorageRequests *prometheus.HistogramVec
	Actions         *prometheus.CounterVec
	ToolInvocations *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TemplateRenders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelctx_template_renders_total",
				Help: "Template renders by template and outcome",
			},
			[]string{"template", "outcome"},
		),
		ExecutorCalls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernelctx_executor_call_duration_seconds",
				Help:    "Duration of remote interpreter calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "outcome"},
		),
		RelayEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelctx_relay_events_total",
				Help: "Events published on the relay",
			},
			[]string{"channel", "type"},
		),
		StorageRequests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernelctx_storage_request_duration_seconds",
				Help:    "Duration of document storage requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "kind", "status"},
		),
		Actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelctx_actions_total",
				Help: "Context message handler runs",
			},
			[]string{"context", "action", "outcome"},
		),
		ToolInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernelctx_tool_invocations_total",
				Help: "Agent tool invocations",
			},
			[]string{"tool", "outcome"},
		),
	}
	m.registry.MustRegister(
		m.TemplateRenders,
		m.ExecutorCalls,
		m.RelayEvents,
		m.StorageRequests,
		m.Actions,
		m.ToolInvocations,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome maps an error to the "outcome" label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveRender(template string, err error) {
	if m == nil {
		return
	}
	m.TemplateRenders.WithLabelValues(template, Outcome(err)).Inc()
}

func (m *Metrics) ObserveCall(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ExecutorCalls.WithLabelValues(kind, Outcome(err)).Observe(d.Seconds())
}

func (m *Metrics) ObserveEvent(channel, msgType string) {
	if m == nil {
		return
	}
	m.RelayEvents.WithLabelValues(channel, msgType).Inc()
}

func (m *Metrics) ObserveStorage(method, kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StorageRequests.WithLabelValues(method, kind, status).Observe(d.Seconds())
}

func (m *Metrics) ObserveAction(context, action string, err error) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(context, action, Outcome(err)).Inc()
}

func (m *Metrics) ObserveTool(tool string, err error) {
	if m == nil {
		return
	}
	m.ToolInvocations.WithLabelValues(tool, Outcome(err)).Inc()
}
