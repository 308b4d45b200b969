// Package monitoring registers the Prometheus metrics exposed on
// /metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConfirmationsTotal counts payment confirmation attempts by final
	// outcome: confirmed, failed, pending, duplicate, error.
	ConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tikiti_confirmations_total",
		Help: "Payment confirmation attempts by outcome.",
	}, []string{"outcome"})

	// PollAttemptsTotal counts mobile-money status checks against the
	// payments provider.
	PollAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tikiti_poll_attempts_total",
		Help: "Mobile-money status poll requests issued.",
	})

	// WebhookDeliveriesTotal counts provider webhook deliveries by
	// result: confirmed, cleaned_up, ignored, rejected.
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tikiti_webhook_deliveries_total",
		Help: "Payment provider webhook deliveries by result.",
	}, []string{"result"})

	// ReapedInvoicesTotal counts abandoned pending invoices removed by
	// the background sweep and by opportunistic reaps on status reads.
	ReapedInvoicesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tikiti_reaped_invoices_total",
		Help: "Abandoned pending invoices deleted.",
	})

	// TicketEventsPublished counts ticket.issued events handed to the
	// message broker.
	TicketEventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tikiti_ticket_events_published_total",
		Help: "ticket.issued events published to the broker.",
	})
)
