package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agent_orchestrator"

// Metrics holds the service collectors. A nil *Metrics is a no-op recorder.
type Metrics struct {
	requests          *prometheus.CounterVec
	agentDuration     *prometheus.HistogramVec
	webhookAttempts   *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Processing requests by mode and terminal status.",
		}, []string{"mode", "status"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_duration_seconds",
			Help:      "Agent run duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"agent", "outcome", "error_kind"}),
		webhookAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_attempts_total",
			Help:      "Webhook delivery attempts by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Finished webhook delivery runs by trigger and final outcome.",
		}, []string{"trigger", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	collectors := []prometheus.Collector{
		m.requests,
		m.agentDuration,
		m.webhookAttempts,
		m.webhookDeliveries,
		m.httpRequests,
		m.httpDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) ObserveRequest(mode, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(mode, status).Inc()
}

func (m *Metrics) ObserveAgent(agent, outcome, errorKind string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentDuration.WithLabelValues(agent, outcome, errorKind).Observe(d.Seconds())
}

func (m *Metrics) ObserveDeliveryAttempt(trigger, outcome string) {
	if m == nil {
		return
	}
	m.webhookAttempts.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) ObserveDelivery(trigger, outcome string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
