// Package metrics records Prometheus metrics for sessions, flow steps, and
// completion calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the agent's collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	sessionsActive     prometheus.Gauge
	sessionsTotal      *prometheus.CounterVec
	stepsTotal         *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	queueDepth         prometheus.Gauge
	notificationsTotal *prometheus.CounterVec
	completionsTotal   *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	completionTokens   *prometheus.CounterVec
}

// New registers the collectors with reg. Passing prometheus.NewRegistry()
// keeps tests isolated from the default registry.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "bench_sessions_active",
			Help: "Number of live conversation sessions",
		}),
		sessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bench_sessions_total",
			Help: "Session lifecycle events by kind (created, reset, closed)",
		}, []string{"event"}),
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bench_flow_steps_total",
			Help: "Processed inputs by stage, input kind, and outcome",
		}, []string{"stage", "input", "outcome"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bench_flow_step_duration_seconds",
			Help:    "Time from dequeue to commit of one input, including the thinking delay",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "bench_input_queue_depth",
			Help: "Buffered inputs waiting across all sessions",
		}),
		notificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bench_notifications_total",
			Help: "Outward notifications delivered by kind",
		}, []string{"kind"}),
		completionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bench_completion_requests_total",
			Help: "Completion service calls by provider, model, and status",
		}, []string{"provider", "model", "status", "error_type"}),
		completionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bench_completion_request_duration_seconds",
			Help:    "Duration of completion service calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "model"}),
		completionTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bench_completion_prompt_tokens_total",
			Help: "Prompt tokens sent to the completion service",
		}, []string{"provider", "model"}),
	}
}

func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	r.sessionsActive.Inc()
	r.sessionsTotal.WithLabelValues("created").Inc()
}

func (r *Recorder) SessionReset() {
	if r == nil {
		return
	}
	r.sessionsTotal.WithLabelValues("reset").Inc()
}

func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	r.sessionsActive.Dec()
	r.sessionsTotal.WithLabelValues("closed").Inc()
}

// ObserveStep records one processed input.
func (r *Recorder) ObserveStep(stage, input, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.stepsTotal.WithLabelValues(stage, input, outcome).Inc()
	r.stepDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// QueueDelta adjusts the buffered-input gauge.
func (r *Recorder) QueueDelta(n int) {
	if r == nil {
		return
	}
	r.queueDepth.Add(float64(n))
}

func (r *Recorder) Notification(kind string) {
	if r == nil {
		return
	}
	r.notificationsTotal.WithLabelValues(kind).Inc()
}

// ObserveCompletion records one completion call. errorType is empty on
// success.
func (r *Recorder) ObserveCompletion(provider, model string, promptTokens int, errorType string, d time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if errorType != "" {
		status = "error"
	}
	r.completionsTotal.WithLabelValues(provider, model, status, errorType).Inc()
	r.completionDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	if promptTokens > 0 {
		r.completionTokens.WithLabelValues(provider, model).Add(float64(promptTokens))
	}
}
