// Package queue defines message payloads exchanged over the message broker.
package queue

// TicketIssuedEvent is published when a reservation reaches CONFIRMED.
// It carries enough information for downstream consumers to send the
// ticket email, log, or feed analytics without querying the primary
// database.
type TicketIssuedEvent struct {
	InvoiceID     uint64 `json:"invoice_id"`
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	EventID       uint64 `json:"event_id"`
	EventTitle    string `json:"event_title"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	ReceiptNumber string `json:"receipt_number"`
	ConfirmedAt   string `json:"confirmed_at"`
}
