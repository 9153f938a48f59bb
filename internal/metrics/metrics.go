package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendpay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vendpay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendpay_settlements_total",
			Help: "Settlement attempts by payment method and outcome",
		},
		[]string{"method", "outcome"},
	)

	GatewayChargeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vendpay_gateway_charge_duration_seconds",
			Help:    "Card gateway charge latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendpay_loyalty_points_total",
			Help: "Loyalty points moved, by reason",
		},
		[]string{"reason"},
	)

	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendpay_webhooks_total",
			Help: "Webhook deliveries by source and result",
		},
		[]string{"source", "result"},
	)

	DispenseOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendpay_dispense_outcomes_total",
			Help: "Dispense confirmations by outcome (complete, partial)",
		},
		[]string{"outcome"},
	)

	CompensationPendingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendpay_compensation_pending_total",
			Help: "Post-payment steps that still failed after retries",
		},
		[]string{"step"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordSettlement(method, outcome string) {
	SettlementsTotal.WithLabelValues(method, outcome).Inc()
}

func RecordGatewayCharge(seconds float64) {
	GatewayChargeDuration.Observe(seconds)
}

func RecordPoints(reason string, points int64) {
	if points < 0 {
		points = -points
	}
	PointsTotal.WithLabelValues(reason).Add(float64(points))
}

func RecordWebhook(source, result string) {
	WebhooksTotal.WithLabelValues(source, result).Inc()
}

func RecordDispense(outcome string) {
	DispenseOutcomesTotal.WithLabelValues(outcome).Inc()
}

func RecordCompensationPending(step string) {
	CompensationPendingTotal.WithLabelValues(step).Inc()
}
