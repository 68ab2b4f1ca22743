// Package metrics exposes interview turn and failure counters to Prometheus
// and doubles as the failure sink of the dialogue engine.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/flow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts turns and failures on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	failures    *prometheus.CounterVec
	turns       *prometheus.CounterVec
	turnLatency *prometheus.HistogramVec
	rateLimited prometheus.Counter
}

var (
	_ flow.FailureReporter = (*Recorder)(nil)
	_ flow.TurnObserver    = (*Recorder)(nil)
)

// NewRecorder creates a Recorder with process and Go runtime collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interview_failures_total",
				Help: "Failures reported by the dialogue engine, by kind.",
			},
			[]string{"kind"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interview_turns_total",
				Help: "Handled interview turns, by outcome.",
			},
			[]string{"outcome"},
		),
		turnLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "interview_turn_latency_ms",
				Help:    "Interview turn latency distribution in milliseconds.",
				Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
			},
			[]string{"outcome"},
		),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "interview_rate_limited_total",
			Help: "Messages rejected by the per-session rate limiter.",
		}),
	}
	r.registry.MustRegister(
		r.failures,
		r.turns,
		r.turnLatency,
		r.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ReportFailure logs the failure and counts it by kind.
func (r *Recorder) ReportFailure(ctx context.Context, f flow.Failure) {
	r.failures.WithLabelValues(norm(string(f.Kind))).Inc()
	level := slog.LevelError
	if f.Kind == flow.FailureGeneration {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "metrics.ReportFailure", "kind", f.Kind, "sessionID", f.SessionID, "slot", f.Slot, "error", f.Err)
}

// ObserveTurn counts a turn and records its latency.
func (r *Recorder) ObserveTurn(outcome string, elapsed time.Duration) {
	outcome = norm(outcome)
	r.turns.WithLabelValues(outcome).Inc()
	r.turnLatency.WithLabelValues(outcome).Observe(float64(elapsed.Milliseconds()))
}

// RateLimited counts a message rejected by the rate limiter.
func (r *Recorder) RateLimited() {
	r.rateLimited.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func norm(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
