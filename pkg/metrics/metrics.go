// Package metrics exports connection and request bookkeeping to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/lightforgemedia/go-sessionmux/pkg/debuglog"
	"github.com/lightforgemedia/go-sessionmux/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "sessionmux"

// Metrics implements the tracker, debug log and connection observers.
type Metrics struct {
	requests       *prometheus.CounterVec
	responses      *prometheus.CounterVec
	orphans        prometheus.Counter
	latency        *prometheus.HistogramVec
	pending        prometheus.Gauge
	swept          *prometheus.CounterVec
	debugEvents    *prometheus.CounterVec
	connection     prometheus.Gauge
	reconnects     prometheus.Counter
	stateChanges   *prometheus.CounterVec
	registeredWith prometheus.Registerer
}

// New creates the collectors and registers them on reg. A nil reg uses
// prometheus.DefaultRegisterer. An empty namespace uses DefaultNamespace.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of tracked outbound requests.",
		}, []string{"kind"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Number of responses matched to a pending request.",
		}, []string{"kind"}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_responses_total",
			Help:      "Number of inbound responses that matched no pending request.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Time from request to matched response.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Number of requests awaiting a response.",
		}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stuck_requests_swept_total",
			Help:      "Number of pending requests removed without a response.",
		}, []string{"reason"}),
		debugEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debug_events_total",
			Help:      "Number of debug events recorded.",
		}, []string{"category"}),
		connection: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Number of successful reconnections after a lost link.",
		}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_state_changes_total",
			Help:      "Number of transitions into each connection state.",
		}, []string{"state"}),
		registeredWith: reg,
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("metrics: collector already registered in namespace %q: %w", namespace, err)
			}
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests,
		m.responses,
		m.orphans,
		m.latency,
		m.pending,
		m.swept,
		m.debugEvents,
		m.connection,
		m.reconnects,
		m.stateChanges,
	}
}

// Unregister removes every collector from the registerer used by New.
func (m *Metrics) Unregister() {
	for _, c := range m.collectors() {
		m.registeredWith.Unregister(c)
	}
}

// RequestTracked implements tracker.Observer.
func (m *Metrics) RequestTracked(kind string) {
	m.requests.WithLabelValues(kind).Inc()
}

// ResponseMatched implements tracker.Observer.
func (m *Metrics) ResponseMatched(kind string, latency time.Duration) {
	m.responses.WithLabelValues(kind).Inc()
	m.latency.WithLabelValues(kind).Observe(latency.Seconds())
}

// OrphanResponse implements tracker.Observer.
func (m *Metrics) OrphanResponse(string) {
	m.orphans.Inc()
}

// RequestsCleared implements tracker.Observer.
func (m *Metrics) RequestsCleared(reason string, n int) {
	m.swept.WithLabelValues(reason).Add(float64(n))
}

// PendingChanged implements tracker.Observer.
func (m *Metrics) PendingChanged(n int) {
	m.pending.Set(float64(n))
}

// DebugEventRecorded implements debuglog.Observer.
func (m *Metrics) DebugEventRecorded(category debuglog.Category) {
	m.debugEvents.WithLabelValues(string(category)).Inc()
}

// StateChanged implements client.ConnectionObserver.
func (m *Metrics) StateChanged(state transport.State) {
	m.connection.Set(float64(state))
	m.stateChanges.WithLabelValues(state.String()).Inc()
}

// Reconnected implements client.ConnectionObserver.
func (m *Metrics) Reconnected() {
	m.reconnects.Inc()
}
