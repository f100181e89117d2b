// Package metrics exposes prometheus instrumentation for one node.
//
// A Metrics value owns its registry, so several nodes can coexist in one
// process (tests do this) without fighting over global collector names.
// Wiring happens at startup: the storage layer reports through the
// storage.OpObserver interface, the cluster through observer callbacks,
// the web layer through request middleware.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes all collector names.
const DefaultNamespace = "treeline"

// Push outcomes recorded by ObservePush.
const (
	PushCommitted = "committed"
	PushConflict  = "conflict"
	PushRedundant = "redundant"
	PushRejected  = "rejected"
	PushFailed    = "failed"
)

var roles = []string{"leader", "follower", "isolated"}

// Metrics bundles every collector of a node.
type Metrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	namespace string

	pushes       *prometheus.CounterVec
	proposals    *prometheus.CounterVec
	appends      *prometheus.CounterVec
	applies      *prometheus.CounterVec
	applyLatency prometheus.Histogram
	role         *prometheus.GaugeVec
	healthy      prometheus.Gauge

	storageOps     *prometheus.CounterVec
	storageLatency *prometheus.HistogramVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New builds a metrics bundle under the given namespace (the default when
// empty), with the standard process and Go collectors registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		factory:   factory,
		namespace: namespace,

		pushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repo",
			Name:      "pushes_total",
			Help:      "Pushes handled by this node, by outcome",
		}, []string{"outcome"}),
		proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "proposals_total",
			Help:      "Commands proposed by this node, by type and outcome",
		}, []string{"type", "outcome"}),
		appends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "log_appends_total",
			Help:      "Commands this node appended to the replicated log, by type",
		}, []string{"type"}),
		applies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "log_applies_total",
			Help:      "Commands applied from the replicated log, by type",
		}, []string{"type"}),
		applyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "apply_latency_seconds",
			Help:      "Time spent applying one replicated command",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		role: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "node_role",
			Help:      "One-hot encoding of the node's availability role",
		}, []string{"role"}),
		healthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "quorum_healthy",
			Help:      "Whether the coordination quorum is reachable (0 or 1)",
		}),

		storageOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "ops_total",
			Help:      "Storage backend operations, by store, operation and outcome",
		}, []string{"store", "op", "outcome"}),
		storageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "op_duration_seconds",
			Help:      "Storage backend operation latency, by store and operation",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"store", "op"}),

		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by method, route pattern and status class",
		}, []string{"method", "route", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by method and route pattern",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 60},
		}, []string{"method", "route"}),
	}

	// a node is born a follower
	m.ObserveAvailability("follower", false)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePush records the outcome of one push request.
func (m *Metrics) ObservePush(outcome string) {
	m.pushes.WithLabelValues(outcome).Inc()
}

// ObserveProposal records the outcome of one proposed command.
func (m *Metrics) ObserveProposal(commandType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.proposals.WithLabelValues(commandType, outcome).Inc()
}

// ObserveAppend counts a command this node appended to the log.
func (m *Metrics) ObserveAppend(commandType string) {
	m.appends.WithLabelValues(commandType).Inc()
}

// ObserveApply counts a command applied from the log.
func (m *Metrics) ObserveApply(commandType string, elapsed time.Duration) {
	m.applies.WithLabelValues(commandType).Inc()
	m.applyLatency.Observe(elapsed.Seconds())
}

// TrackAppliedIndex registers a gauge following the applier's progress.
// Call it once per Metrics value.
func (m *Metrics) TrackAppliedIndex(fn func() uint64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "cluster",
		Name:      "applied_index",
		Help:      "Index of the last replicated command applied locally",
	}, func() float64 {
		return float64(fn())
	})
}

// ObserveAvailability updates the role and quorum gauges.
func (m *Metrics) ObserveAvailability(role string, healthy bool) {
	for _, known := range roles {
		value := 0.0
		if known == role {
			value = 1.0
		}
		m.role.WithLabelValues(known).Set(value)
	}
	if healthy {
		m.healthy.Set(1)
	} else {
		m.healthy.Set(0)
	}
}

// ObserveStoreOp implements storage.OpObserver.
func (m *Metrics) ObserveStoreOp(store, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.storageOps.WithLabelValues(store, op, outcome).Inc()
	m.storageLatency.WithLabelValues(store, op).Observe(time.Since(start).Seconds())
}

// ObserveRequest records one handled HTTP request.
func (m *Metrics) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, statusClass(code)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// statusClass folds status codes to keep label cardinality flat.
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
