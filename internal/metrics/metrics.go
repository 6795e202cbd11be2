package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReserveDuration tracks the latency of number reservations
	ReserveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raffle_reserve_duration_seconds",
			Help:    "Duration of ticket number reservations in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"status"}, // success or failure
	)

	// CallbackOutcomes counts payment callback redirect decisions
	CallbackOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_callback_outcomes_total",
			Help: "Payment callback results by redirect decision",
		},
		[]string{"decision"},
	)

	// SweptTickets counts reserved numbers returned to the pool by the sweeper
	SweptTickets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raffle_swept_tickets_total",
			Help: "Reserved ticket numbers released by the reservation sweep",
		},
	)

	// NotificationFailures counts failed confirmation hand-offs
	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raffle_notification_failures_total",
			Help: "Confirmation notifications that could not be delivered",
		},
	)
)

func RecordReserveDuration(status string, duration float64) {
	ReserveDuration.WithLabelValues(status).Observe(duration)
}

func RecordCallbackOutcome(decision string) {
	CallbackOutcomes.WithLabelValues(decision).Inc()
}

func RecordSweptTickets(count int) {
	SweptTickets.Add(float64(count))
}

func RecordNotificationFailure() {
	NotificationFailures.Inc()
}
