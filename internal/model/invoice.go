package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates the lifecycle states of an invoice.  An
// invoice starts PENDING and ends in exactly one of the terminal
// states CONFIRMED or FAILED.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoiceConfirmed InvoiceStatus = "CONFIRMED"
	InvoiceFailed    InvoiceStatus = "FAILED"
)

// transitions is the explicit transition table for invoice statuses.
// Only PENDING may move, and only into a terminal state.  Re-entering
// the current state is treated as a no-op by CanTransition, which is
// what makes duplicate confirmation callbacks safe.
var transitions = map[InvoiceStatus][]InvoiceStatus{
	InvoicePending:   {InvoiceConfirmed, InvoiceFailed},
	InvoiceConfirmed: {},
	InvoiceFailed:    {},
}

// Terminal reports whether the status is an end state.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceConfirmed || s == InvoiceFailed
}

// CanTransition reports whether moving from s to target is legal.
// Re-entry into the same state is allowed (idempotent no-op).
func (s InvoiceStatus) CanTransition(target InvoiceStatus) bool {
	if s == target {
		return true
	}
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ProofKind tags which kind of payment proof a client supplied.
type ProofKind string

const (
	ProofMpesa ProofKind = "mpesa" // provider-issued mobile-money transaction code
	ProofChain ProofKind = "chain" // on-chain transaction hash
)

// PaymentProof is the tagged union of the two proof forms.  The
// persistence layer stores kind and value in separate columns so a
// call site never has to guess what the string means.
type PaymentProof struct {
	Kind  ProofKind `json:"kind"`
	Value string    `json:"value"`
}

// Empty reports whether no proof has been recorded yet.
func (p PaymentProof) Empty() bool { return p.Value == "" }

// Invoice records one payment attempt for one (user, event) pair.
// Amounts are USD-denominated.  At most one invoice exists per
// OrderID; several invoices may exist historically for the same user
// and event because a price change fails the old PENDING invoice and
// creates a fresh one instead of mutating it.
//
// Fields:
//
//	ID              – primary key identifier.
//	UserID          – identity-provider subject of the payer.
//	EventID         – event being reserved.
//	Amount          – invoice amount in USD.
//	Currency        – display currency requested by the client.
//	Chain           – chain the on-chain leg settles on.
//	Status          – PENDING, CONFIRMED or FAILED.
//	Proof           – mobile-money code or chain hash supplied by the client.
//	ReceiptNumber   – settlement proof once confirmed.
//	InvoiceURL      – external checkout link, when one was issued.
//	OrderID         – client-facing correlation id, unique.
//	TicketEmailSent – whether the ticket notification was dispatched.
//	CreatedAt       – creation timestamp (UTC).
type Invoice struct {
	ID              uint64          // invoices.id
	UserID          string          // invoices.user_id
	EventID         uint64          // invoices.event_id
	Amount          decimal.Decimal // invoices.amount
	Currency        string          // invoices.currency
	Chain           string          // invoices.chain
	Status          InvoiceStatus   // invoices.status
	Proof           PaymentProof    // invoices.proof_kind + invoices.transaction_code
	ReceiptNumber   string          // invoices.receipt_number
	InvoiceURL      string          // invoices.invoice_url
	OrderID         string          // invoices.order_id
	TicketEmailSent bool            // invoices.ticket_email_sent
	CreatedAt       time.Time       // invoices.created_at
}

// Transition moves the invoice into target after checking the
// transition table.  Illegal moves (e.g. CONFIRMED back to PENDING)
// return an error and leave the invoice untouched.
func (i *Invoice) Transition(target InvoiceStatus) error {
	if !i.Status.CanTransition(target) {
		return fmt.Errorf("invoice %d: illegal transition %s -> %s", i.ID, i.Status, target)
	}
	i.Status = target
	return nil
}

// Age returns how long ago the invoice was created, relative to now.
func (i *Invoice) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}

// Abandoned reports whether the invoice qualifies for reaping: still
// PENDING, a payment was started (proof recorded) but never settled
// (no receipt), and the invoice is at least maxAge old.
func (i *Invoice) Abandoned(now time.Time, maxAge time.Duration) bool {
	return i.Status == InvoicePending &&
		!i.Proof.Empty() &&
		i.ReceiptNumber == "" &&
		i.Age(now) >= maxAge
}
