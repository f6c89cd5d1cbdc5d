package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedemptionDuration tracks redeem latency by outcome kind.
	RedemptionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voucher_redemption_duration_seconds",
			Help:    "Duration of voucher redemption requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"result"},
	)

	// ClaimsTotal counts claim attempts by method and outcome kind.
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_claims_total",
			Help: "Voucher claim attempts",
		},
		[]string{"method", "result"},
	)

	// QRTamperTotal counts scanned payloads whose digest did not verify.
	QRTamperTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voucher_qr_tamper_total",
		Help: "Scanned QR payloads rejected for digest mismatch",
	})

	// AttributionEventsTotal counts clicks, leads and conversions per source kind.
	AttributionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribution_events_total",
			Help: "Attribution events by event and source kind",
		},
		[]string{"event", "kind"},
	)

	// NotificationsTotal counts notification deliveries by type and status.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification deliveries",
		},
		[]string{"type", "status"},
	)

	// ClaimsExpiredTotal counts claims moved to expired by the sweep.
	ClaimsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voucher_claims_expired_total",
		Help: "Claims transitioned to expired by the scheduled sweep",
	})
)

// ObserveRedemption records the duration of one redeem call.
func ObserveRedemption(result string, seconds float64) {
	RedemptionDuration.WithLabelValues(result).Observe(seconds)
}

// CountClaim records one claim attempt.
func CountClaim(method, result string) {
	ClaimsTotal.WithLabelValues(method, result).Inc()
}

// CountAttribution records one attribution event.
func CountAttribution(event, kind string) {
	AttributionEventsTotal.WithLabelValues(event, kind).Inc()
}

// CountNotification records one delivery outcome.
func CountNotification(notificationType, status string) {
	NotificationsTotal.WithLabelValues(notificationType, status).Inc()
}
