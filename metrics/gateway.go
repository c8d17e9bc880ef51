package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics instruments the soul gateway HTTP API. A nil
// *GatewayMetrics records nothing.
type GatewayMetrics struct {
	Requests     *prometheus.CounterVec
	PayloadBytes *prometheus.HistogramVec
	RateLimited  prometheus.Counter
}

// NewGatewayMetrics registers the gateway metrics with reg.
func NewGatewayMetrics(reg prometheus.Registerer, namespace string) *GatewayMetrics {
	factory := promauto.With(reg)
	return &GatewayMetrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Gateway API requests by operation and status code",
		}, []string{"op", "code"}),

		PayloadBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_payload_bytes",
			Help:      "Size of uploaded and downloaded payloads",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"direction"}),

		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_rate_limited_total",
			Help:      "Uploads rejected by the rate limiter",
		}),
	}
}

// ObserveRequest counts a finished request.
func (m *GatewayMetrics) ObserveRequest(op string, code int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op, strconv.Itoa(code)).Inc()
}

// ObservePayload records the size of a payload moving in direction ("upload" or "download").
func (m *GatewayMetrics) ObservePayload(direction string, size int) {
	if m == nil {
		return
	}
	m.PayloadBytes.WithLabelValues(direction).Observe(float64(size))
}

// IncRateLimited counts a rejected upload.
func (m *GatewayMetrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
