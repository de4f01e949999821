package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Content request routes.
const (
	RouteUntitled = "untitled"
	RouteNetwork  = "network"
	RouteDocument = "document"
	RouteStore    = "store"
)

// Metrics counts router activity. A nil *Metrics records nothing.
type Metrics struct {
	contentRequests *prometheus.CounterVec
	associationPush *prometheus.CounterVec
	customSchema    *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
}

// NewMetrics creates the router metrics and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		contentRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yamlbridge",
			Name:      "content_requests_total",
			Help:      "Content requests served, by route and outcome.",
		}, []string{"route", "outcome"}),
		associationPush: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yamlbridge",
			Name:      "association_pushes_total",
			Help:      "Schema association notifications sent, by outcome.",
		}, []string{"outcome"}),
		customSchema: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yamlbridge",
			Name:      "custom_schema_requests_total",
			Help:      "Custom schema requests served, by method and outcome.",
		}, []string{"method", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "yamlbridge",
			Name:      "fetch_duration_seconds",
			Help:      "Network fetch latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"route"}),
	}

	if reg != nil {
		reg.MustRegister(m.contentRequests, m.associationPush, m.customSchema, m.fetchDuration)
	}
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) content(route string, err error) {
	if m == nil {
		return
	}
	m.contentRequests.WithLabelValues(route, outcome(err)).Inc()
}

func (m *Metrics) push(err error) {
	if m == nil {
		return
	}
	m.associationPush.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) custom(method string, err error) {
	if m == nil {
		return
	}
	m.customSchema.WithLabelValues(method, outcome(err)).Inc()
}

func (m *Metrics) fetch(route string, start time.Time) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}
