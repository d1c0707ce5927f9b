package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome classifies a provider call for counting.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeCanceled Outcome = "canceled"
)

// Metrics owns every collector of the service plus the per-provider latency
// tracker. Collectors are registered on the injected registry; nothing uses
// the default global registry.
type Metrics struct {
	registry *prometheus.Registry
	tracker  *Tracker

	turnsTotal      *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	stageDuration   *prometheus.HistogramVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	phiDetections   *prometheus.CounterVec
	degradations    *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	activeSessions  prometheus.Gauge
}

// Sub-second voice turns need finer buckets than the prometheus defaults.
var latencyBuckets = []float64{.01, .025, .05, .1, .15, .2, .3, .5, .7, 1, 2, 5}

// New creates the service metrics on the given registry.
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		tracker:  NewTracker(),
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medvoice_turns_total",
			Help: "Completed voice turns by status.",
		}, []string{"status"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "medvoice_turn_duration_seconds",
			Help:    "End to end voice turn latency.",
			Buckets: latencyBuckets,
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medvoice_stage_duration_seconds",
			Help:    "Pipeline stage latency.",
			Buckets: latencyBuckets,
		}, []string{"stage"}),
		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medvoice_provider_calls_total",
			Help: "Provider calls by outcome.",
		}, []string{"provider", "kind", "outcome"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medvoice_provider_call_duration_seconds",
			Help:    "Latency of individual provider calls.",
			Buckets: latencyBuckets,
		}, []string{"provider", "kind"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medvoice_fallbacks_total",
			Help: "Turns where a non-primary provider served a stage.",
		}, []string{"kind"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medvoice_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"provider", "state"}),
		phiDetections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medvoice_phi_detections_total",
			Help: "Turns routed to the privacy boundary, by reason.",
		}, []string{"reason"}),
		degradations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medvoice_degradations_total",
			Help: "Budget degradations applied, by tag.",
		}, []string{"tag"}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "medvoice_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medvoice_active_sessions",
			Help: "Sessions currently tracked by the session manager.",
		}),
	}
}

// Registry exposes the underlying registry for the metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Tracker exposes per-provider latency averages for selection scoring.
func (m *Metrics) Tracker() *Tracker { return m.tracker }

// ObserveCall records one provider call.
func (m *Metrics) ObserveCall(providerName, kind string, latency time.Duration, outcome Outcome) {
	m.providerCalls.WithLabelValues(providerName, kind, string(outcome)).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeFailure || outcome == OutcomeTimeout {
		m.providerLatency.WithLabelValues(providerName, kind).Observe(latency.Seconds())
		m.tracker.Observe(providerName, latency, outcome == OutcomeSuccess)
	}
}

// ObserveTurn records a completed turn.
func (m *Metrics) ObserveTurn(status string, elapsed time.Duration) {
	m.turnsTotal.WithLabelValues(status).Inc()
	m.turnDuration.Observe(elapsed.Seconds())
}

// ObserveStage records one pipeline stage.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// FallbackUsed notes that a stage was served by a non-primary provider.
func (m *Metrics) FallbackUsed(kind string) {
	m.fallbacks.WithLabelValues(kind).Inc()
}

// BreakerTransition counts a circuit state change.
func (m *Metrics) BreakerTransition(providerName, state string) {
	m.transitions.WithLabelValues(providerName, state).Inc()
}

// PHIDetected counts a privacy routing to the safe boundary.
func (m *Metrics) PHIDetected(reason string) {
	m.phiDetections.WithLabelValues(reason).Inc()
}

// Degradation counts one applied degradation tag.
func (m *Metrics) Degradation(tag string) {
	m.degradations.WithLabelValues(tag).Inc()
}

// EventDropped counts a dropped bus event.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

// SessionOpened and SessionClosed maintain the active session gauge.
func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }

func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }
