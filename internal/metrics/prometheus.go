// internal/metrics/prometheus.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vlmbench"

// Collectors groups the Prometheus instruments of one registry.
type Collectors struct {
	turnsTotal        *prometheus.CounterVec
	ttft              *prometheus.HistogramVec
	ttc               *prometheus.HistogramVec
	tokensTotal       *prometheus.CounterVec
	activeConnections prometheus.Gauge
	proxyRequests     *prometheus.CounterVec
}

// NewCollectors registers the collectors on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns submitted, by outcome",
		}, []string{"backend", "model", "status"}),
		ttft: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_token_seconds",
			Help:      "Time from request to first streamed fragment",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"backend", "model"}),
		ttc: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_completion_seconds",
			Help:      "Time from request to full reply",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"backend", "model"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by the backend",
		}, []string{"backend", "model", "kind"}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_active_connections",
			Help:      "Open WebSocket connections",
		}),
		proxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Proxy requests by outcome",
		}, []string{"outcome"}),
	}
}

// Observe records one finished turn.
func (c *Collectors) Observe(obs Observation) {
	if obs.Err != nil {
		c.turnsTotal.WithLabelValues(obs.Backend, obs.Model, "error").Inc()
		return
	}
	c.turnsTotal.WithLabelValues(obs.Backend, obs.Model, "ok").Inc()
	if obs.TTFT > 0 {
		c.ttft.WithLabelValues(obs.Backend, obs.Model).Observe(obs.TTFT.Seconds())
	}
	c.ttc.WithLabelValues(obs.Backend, obs.Model).Observe(obs.TTC.Seconds())
	c.tokensTotal.WithLabelValues(obs.Backend, obs.Model, "input").Add(float64(obs.Usage.InputTokens))
	c.tokensTotal.WithLabelValues(obs.Backend, obs.Model, "output").Add(float64(obs.Usage.OutputTokens))
	c.tokensTotal.WithLabelValues(obs.Backend, obs.Model, "cache_read").Add(float64(obs.Usage.CacheReadInputTokens))
	c.tokensTotal.WithLabelValues(obs.Backend, obs.Model, "cache_creation").Add(float64(obs.Usage.CacheCreationInputTokens))
}

// ConnectionOpened increments the active connection gauge.
func (c *Collectors) ConnectionOpened() { c.activeConnections.Inc() }

// ConnectionClosed decrements the active connection gauge.
func (c *Collectors) ConnectionClosed() { c.activeConnections.Dec() }

// ProxyRequest counts a proxy request by outcome (complete, error, invalid, disconnected).
func (c *Collectors) ProxyRequest(outcome string) {
	c.proxyRequests.WithLabelValues(outcome).Inc()
}

// Handler serves the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
