package observe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the run loop reports into. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	StepsTotal        prometheus.Counter
	RetriesTotal      *prometheus.CounterVec
	TripwiresTotal    *prometheus.CounterVec
	ToolExecutions    *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	ModelCallDuration prometheus.Histogram
}

// NewMetrics creates and registers the run collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_runs_total",
			Help: "Completed runs by outcome (complete, tripwire, error).",
		}, []string{"outcome"}),
		StepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_steps_total",
			Help: "Accepted steps across all runs.",
		}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_processor_retries_total",
			Help: "Step retries requested by processors.",
		}, []string{"processor"}),
		TripwiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_tripwires_total",
			Help: "Terminal tripwires by raising processor.",
		}, []string{"processor"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_tool_executions_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conductor_run_duration_seconds",
			Help:    "Wall time of complete runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		ModelCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conductor_model_call_duration_seconds",
			Help:    "Wall time of individual model invocations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	reg.MustRegister(m.RunsTotal, m.StepsTotal, m.RetriesTotal, m.TripwiresTotal, m.ToolExecutions, m.RunDuration, m.ModelCallDuration)
	return m
}

// Registry exposes the underlying registry for scrape handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// ObserveStep records one accepted step.
func (m *Metrics) ObserveStep() {
	if m == nil {
		return
	}
	m.StepsTotal.Inc()
}

// ObserveRetry records a processor-requested retry.
func (m *Metrics) ObserveRetry(processorID string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(processorID).Inc()
}

// ObserveTripwire records a terminal tripwire.
func (m *Metrics) ObserveTripwire(processorID string) {
	if m == nil {
		return
	}
	m.TripwiresTotal.WithLabelValues(processorID).Inc()
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
}

// ObserveModelCall records one model invocation.
func (m *Metrics) ObserveModelCall(d time.Duration) {
	if m == nil {
		return
	}
	m.ModelCallDuration.Observe(d.Seconds())
}
