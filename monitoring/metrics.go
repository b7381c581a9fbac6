package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientMetrics exposes the telemetry client's own behavior (requests,
// retries, stream churn, fallbacks) as Prometheus metrics. All hooks are
// optional: a nil *ClientMetrics is safe to call.
type ClientMetrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	retriesTotal      prometheus.Counter
	streamEventsTotal *prometheus.CounterVec
	reconnectsTotal   prometheus.Counter
	fallbacksTotal    *prometheus.CounterVec
	recoveriesTotal   *prometheus.CounterVec
	connectionStatus  *prometheus.GaugeVec
}

// NewClientMetrics creates a collector on its own registry, so independent
// client instances (and tests) never collide on metric registration.
func NewClientMetrics(clientName string) *ClientMetrics {
	registry := prometheus.NewRegistry()

	mc := &ClientMetrics{registry: registry}

	mc.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "sourcewatch_requests_total",
			Help:        "Total backend request attempts by endpoint and outcome",
			ConstLabels: prometheus.Labels{"client": clientName},
		},
		[]string{"endpoint", "outcome"},
	)

	mc.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "sourcewatch_request_duration_seconds",
			Help:        "Backend request attempt duration in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: prometheus.Labels{"client": clientName},
		},
		[]string{"endpoint"},
	)

	mc.retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "sourcewatch_retries_total",
			Help:        "Total refresh retries scheduled",
			ConstLabels: prometheus.Labels{"client": clientName},
		},
	)

	mc.streamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "sourcewatch_stream_events_total",
			Help:        "Total stream events by kind (message, parse-error, open, drop)",
			ConstLabels: prometheus.Labels{"client": clientName},
		},
		[]string{"kind"},
	)

	mc.reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "sourcewatch_stream_reconnects_total",
			Help:        "Total stream reconnects scheduled",
			ConstLabels: prometheus.Labels{"client": clientName},
		},
	)

	mc.fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "sourcewatch_fallbacks_total",
			Help:        "Total switches to fallback data by reason",
			ConstLabels: prometheus.Labels{"client": clientName},
		},
		[]string{"reason"},
	)

	mc.recoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "sourcewatch_recoveries_total",
			Help:        "Total accepted payloads after failures, by delivering channel",
			ConstLabels: prometheus.Labels{"client": clientName},
		},
		[]string{"origin"},
	)

	mc.connectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "sourcewatch_connection_status",
			Help:        "Current connection status (1 for the active status label)",
			ConstLabels: prometheus.Labels{"client": clientName},
		},
		[]string{"status"},
	)

	registry.MustRegister(
		mc.requestsTotal,
		mc.requestDuration,
		mc.retriesTotal,
		mc.streamEventsTotal,
		mc.reconnectsTotal,
		mc.fallbacksTotal,
		mc.recoveriesTotal,
		mc.connectionStatus,
	)

	return mc
}

// ObserveRequest records one request attempt.
func (mc *ClientMetrics) ObserveRequest(endpoint, outcome string, seconds float64) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(endpoint, outcome).Inc()
	mc.requestDuration.WithLabelValues(endpoint).Observe(seconds)
}

// ObserveRetry counts one scheduled refresh retry.
func (mc *ClientMetrics) ObserveRetry() {
	if mc == nil {
		return
	}
	mc.retriesTotal.Inc()
}

// ObserveStreamEvent counts one stream event by kind.
func (mc *ClientMetrics) ObserveStreamEvent(kind string) {
	if mc == nil {
		return
	}
	mc.streamEventsTotal.WithLabelValues(kind).Inc()
}

// ObserveReconnect counts one scheduled stream reconnect.
func (mc *ClientMetrics) ObserveReconnect() {
	if mc == nil {
		return
	}
	mc.reconnectsTotal.Inc()
}

// ObserveFallback counts one switch to fallback data.
func (mc *ClientMetrics) ObserveFallback(reason string) {
	if mc == nil {
		return
	}
	mc.fallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveRecovery counts one accepted payload after failures.
func (mc *ClientMetrics) ObserveRecovery(origin string) {
	if mc == nil {
		return
	}
	mc.recoveriesTotal.WithLabelValues(origin).Inc()
}

// SetConnectionStatus flips the status gauge so exactly one label reads 1.
func (mc *ClientMetrics) SetConnectionStatus(status string) {
	if mc == nil {
		return
	}
	for _, s := range []string{"initializing", "connecting", "connected", "reconnecting", "degraded", "offline"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		mc.connectionStatus.WithLabelValues(s).Set(v)
	}
}

// Handler returns the Prometheus scrape handler for this client's registry.
func (mc *ClientMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}
