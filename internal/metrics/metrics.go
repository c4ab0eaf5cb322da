// Package metrics объявляет счетчики Prometheus, которые отдаются на /metrics
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RelayMessages считает пересылки между пользователем и поддержкой
	RelayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_relay_messages_total",
			Help: "Support relay deliveries partitioned by direction and result.",
		},
		[]string{"direction", "result"},
	)

	TicketsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "helpdesk_tickets_opened_total",
			Help: "Support tickets opened.",
		},
	)

	TicketsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_tickets_closed_total",
			Help: "Support tickets closed partitioned by reason.",
		},
		[]string{"reason"},
	)

	BroadcastDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_broadcast_deliveries_total",
			Help: "Broadcast deliveries partitioned by result.",
		},
		[]string{"result"},
	)

	BroadcastJobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "helpdesk_broadcast_jobs_running",
			Help: "Broadcast jobs currently delivering.",
		},
	)

	PaymentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_payment_events_total",
			Help: "Payment gateway callbacks partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		RelayMessages,
		TicketsOpened,
		TicketsClosed,
		BroadcastDeliveries,
		BroadcastJobsRunning,
		PaymentEvents,
	)
}
