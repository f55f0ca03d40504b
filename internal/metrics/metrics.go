// Package metrics exposes the gateway's Prometheus surface: an
// active-call gauge (ambient observability carried despite spec.md's
// non-goals only excluding call-clustering/replication, not metrics) and
// a turn-latency histogram reconstructed from the same *_started/
// *_completed event pairing analytics.ReconstructTurns uses offline,
// computed here online as events cross the wire to the dashboard.
//
// Grounded on hubenschmidt-asr-llm-tts's gateway and the agentflow
// reference in other_examples, both of which expose a prometheus
// /metrics endpoint alongside their HTTP transport rather than rolling
// their own counters.
package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// EventBroadcaster decorates an analytics.Broadcaster (restated here as
// the structural interface Forwarder so this package does not import
// internal/analytics just for one interface), turning the event stream
// every call already produces into Prometheus observations before
// forwarding to the real dashboard broadcaster. No event payload is
// inspected; only call id, event name, and timestamp are available at
// this layer, which is sufficient to pair *_started with the matching
// *_completed/*_failed for a per-stage latency histogram.
type EventBroadcaster struct {
	inner Forwarder

	events  *prometheus.CounterVec
	latency *prometheus.HistogramVec

	mu      sync.Mutex
	started map[string]time.Time // keyed by call_id + "\x00" + stage
}

// Forwarder is the narrow analytics.Broadcaster shape this package
// decorates without importing internal/analytics.
type Forwarder interface {
	AnalyticsEvent(callID string, event string, ts time.Time)
}

// NewEventBroadcaster constructs an EventBroadcaster registered against
// registry (not the global default, so tests and multiple gateway
// instances in one process don't collide on metric registration).
func NewEventBroadcaster(inner Forwarder, registry *prometheus.Registry) *EventBroadcaster {
	return &EventBroadcaster{
		inner: inner,
		events: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "lokutor_call_events_total",
			Help: "Count of analytics events emitted, by event type.",
		}, []string{"event"}),
		latency: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lokutor_turn_stage_latency_seconds",
			Help:    "Latency of each turn pipeline stage, from *_started to *_completed/*_failed.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),
		started: make(map[string]time.Time),
	}
}

// AnalyticsEvent implements Forwarder (and therefore analytics.Broadcaster
// structurally), observing metrics before relaying to inner.
func (e *EventBroadcaster) AnalyticsEvent(callID string, event string, ts time.Time) {
	e.events.WithLabelValues(event).Inc()

	switch {
	case strings.HasSuffix(event, "_started"):
		stage := strings.TrimSuffix(event, "_started")
		e.mu.Lock()
		e.started[callID+"\x00"+stage] = ts
		e.mu.Unlock()
	case strings.HasSuffix(event, "_completed"), strings.HasSuffix(event, "_failed"):
		stage, outcome := splitOutcome(event)
		key := callID + "\x00" + stage
		e.mu.Lock()
		start, ok := e.started[key]
		if ok {
			delete(e.started, key)
		}
		e.mu.Unlock()
		if ok {
			e.latency.WithLabelValues(stage, outcome).Observe(ts.Sub(start).Seconds())
		}
	}

	if e.inner != nil {
		e.inner.AnalyticsEvent(callID, event, ts)
	}
}

func splitOutcome(event string) (stage, outcome string) {
	if strings.HasSuffix(event, "_completed") {
		return strings.TrimSuffix(event, "_completed"), "completed"
	}
	return strings.TrimSuffix(event, "_failed"), "failed"
}

// Handler returns the /metrics HTTP handler for registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ActiveCallsGauge tracks the current number of calls the dashboard
// broadcaster considers active. It is updated by polling rather than by
// decorating the broadcaster directly, since CallStarted/CallEnded are
// concrete *dashboard.Broadcaster methods the carrier handler calls
// directly, not mediated through an interface this package can wrap.
type ActiveCallsGauge struct {
	gauge prometheus.Gauge
}

// NewActiveCallsGauge registers an active-calls gauge against registry.
func NewActiveCallsGauge(registry *prometheus.Registry) *ActiveCallsGauge {
	return &ActiveCallsGauge{
		gauge: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "lokutor_active_calls",
			Help: "Number of calls currently tracked as active by the dashboard broadcaster.",
		}),
	}
}

// Watch polls count every interval and sets the gauge, until ctx is
// cancelled. Intended to run in its own goroutine for the life of the
// process.
func (g *ActiveCallsGauge) Watch(ctx context.Context, interval time.Duration, count func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.gauge.Set(float64(count()))
		}
	}
}
