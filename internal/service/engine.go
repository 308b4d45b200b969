// Package service implements the reservation confirmation engine: the
// state machine that reconciles payments (mobile money, on-chain
// transfers, provider wallets) into exactly-once confirmed RSVPs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kwachira/tikiti/internal/chain"
	"github.com/kwachira/tikiti/internal/model"
	"github.com/kwachira/tikiti/internal/monitoring"
	"github.com/kwachira/tikiti/internal/queue"
	"github.com/kwachira/tikiti/internal/repository"
	"github.com/kwachira/tikiti/internal/rift"
)

// Sentinel errors mapped to HTTP statuses by the handler layer.
var (
	ErrEventFull           = errors.New("event is at capacity")
	ErrAlreadyConfirmed    = errors.New("reservation already confirmed")
	ErrProofInUse          = errors.New("payment proof already used by another invoice")
	ErrInsufficientBalance = errors.New("wallet balance below ticket price")
	ErrNoWallet            = errors.New("organizer has no wallet configured")
)

// InvoiceStore is the slice of the invoice repository the engine
// needs.  *repository.InvoiceRepo satisfies it; tests supply fakes.
type InvoiceStore interface {
	Create(ctx context.Context, inv *model.Invoice) error
	CreateConfirmedWithRSVP(ctx context.Context, inv *model.Invoice) error
	ByOrderID(ctx context.Context, orderID string) (*model.Invoice, error)
	ByTransactionCode(ctx context.Context, code string) (*model.Invoice, error)
	PendingByUserEvent(ctx context.Context, userID string, eventID uint64) (*model.Invoice, error)
	LatestByUserEvent(ctx context.Context, userID string, eventID uint64) (*model.Invoice, error)
	SaveProof(ctx context.Context, id uint64, proof model.PaymentProof) error
	MarkFailed(ctx context.Context, id uint64) error
	ConfirmWithRSVP(ctx context.Context, inv *model.Invoice, receipt string) error
	Delete(ctx context.Context, id uint64) error
	DeleteWithPendingRSVP(ctx context.Context, inv *model.Invoice) error
	MarkTicketEmailSent(ctx context.Context, id uint64) error
	ReapAbandoned(ctx context.Context, maxAge time.Duration) (int64, error)
}

// EventStore is read access to events and confirmed-seat counts.
type EventStore interface {
	ByID(ctx context.Context, id uint64) (*model.Event, error)
	ConfirmedCount(ctx context.Context, eventID uint64) (uint32, error)
}

// ChainValidator verifies on-chain transaction hashes.
type ChainValidator interface {
	Validate(ctx context.Context, hash string, expectedAmount decimal.Decimal) (*chain.Result, error)
}

// StatusPoller watches a mobile-money transaction until it settles or
// the bounded schedule runs out.
type StatusPoller interface {
	Poll(ctx context.Context, code string) (*rift.PollResult, error)
}

// PaymentsProvider is the slice of the Rift client the engine needs.
type PaymentsProvider interface {
	CreateCheckoutInvoice(ctx context.Context, req rift.CheckoutRequest) (string, error)
	GetExchangeRate(ctx context.Context, currency string) (*rift.Rate, error)
	GetWalletBalance(ctx context.Context, userToken, token, chainName string) ([]rift.Balance, error)
	SendTransfer(ctx context.Context, userToken string, req rift.TransferRequest) (string, error)
}

// Notifier hands a ticket event to the message broker.
type Notifier func(ctx context.Context, ev queue.TicketIssuedEvent) error

// Engine drives invoices through their lifecycle and owns every write
// that confirms, fails or removes a reservation.
type Engine struct {
	invoices InvoiceStore
	events   EventStore
	chain    ChainValidator
	poller   StatusPoller
	provider PaymentsProvider
	notify   Notifier

	chainName     string
	chainAsset    string
	pendingMaxAge time.Duration

	// now is swapped in tests to pin invoice ages.
	now func() time.Time
}

// NewEngine wires the engine.  notify may be nil, which disables
// ticket notifications (useful in tests).
func NewEngine(
	invoices InvoiceStore,
	events EventStore,
	validator ChainValidator,
	poller StatusPoller,
	provider PaymentsProvider,
	notify Notifier,
	chainName, chainAsset string,
	pendingMaxAge time.Duration,
) *Engine {
	return &Engine{
		invoices:      invoices,
		events:        events,
		chain:         validator,
		poller:        poller,
		provider:      provider,
		notify:        notify,
		chainName:     chainName,
		chainAsset:    chainAsset,
		pendingMaxAge: pendingMaxAge,
		now:           time.Now,
	}
}

// ConfirmOutcome is the terminal answer of one confirmation attempt.
type ConfirmOutcome string

const (
	// OutcomeConfirmed means the payment verified and the reservation
	// is CONFIRMED.
	OutcomeConfirmed ConfirmOutcome = "confirmed"
	// OutcomeFailed means the payment is conclusively bad and the
	// invoice moved to FAILED.
	OutcomeFailed ConfirmOutcome = "failed"
	// OutcomePending means the payment is not observable yet and the
	// client should retry; nothing was mutated besides the saved proof.
	OutcomePending ConfirmOutcome = "pending"
)

// ConfirmResult reports the outcome of ConfirmPayment.
type ConfirmResult struct {
	Outcome ConfirmOutcome `json:"outcome"`
	Invoice *model.Invoice `json:"-"`
	Message string         `json:"message,omitempty"`
}

// ReserveResult reports the outcome of Reserve.  Confirmed is true on
// the free-event path, where no payment step exists; otherwise the
// client is sent to the checkout link.  DisplayAmount carries the
// price quoted in the organizer's currency when that is not USD.
type ReserveResult struct {
	Confirmed       bool           `json:"confirmed"`
	OrderID         string         `json:"order_id,omitempty"`
	InvoiceURL      string         `json:"invoice_url,omitempty"`
	DisplayAmount   string         `json:"display_amount,omitempty"`
	DisplayCurrency string         `json:"display_currency,omitempty"`
	Invoice         *model.Invoice `json:"-"`
}

// Reserve starts (or resumes) a reservation attempt.
//
// Free events confirm immediately.  Paid events reuse an existing
// PENDING invoice when its amount still matches the current price;
// otherwise the stale invoice is failed and a fresh one, with a fresh
// checkout link, replaces it.  A pair that already holds a CONFIRMED
// reservation gets ErrAlreadyConfirmed instead of a second invoice.
func (e *Engine) Reserve(ctx context.Context, userID string, eventID uint64) (*ReserveResult, error) {
	ev, err := e.events.ByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	latest, err := e.invoices.LatestByUserEvent(ctx, userID, eventID)
	if err != nil && !errors.Is(err, repository.ErrInvoiceNotFound) {
		return nil, err
	}
	if latest != nil && latest.Status == model.InvoiceConfirmed {
		return nil, ErrAlreadyConfirmed
	}

	taken, err := e.events.ConfirmedCount(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if taken >= ev.Capacity {
		return nil, ErrEventFull
	}

	if ev.Free() {
		inv := &model.Invoice{
			UserID:        userID,
			EventID:       eventID,
			Amount:        decimal.Zero,
			Currency:      ev.Currency,
			Chain:         ev.Chain,
			ReceiptNumber: "FREE",
			OrderID:       uuid.NewString(),
		}
		if err := e.invoices.CreateConfirmedWithRSVP(ctx, inv); err != nil {
			return nil, err
		}
		monitoring.ConfirmationsTotal.WithLabelValues("confirmed").Inc()
		e.dispatchTicket(ctx, inv, ev)
		return &ReserveResult{Confirmed: true, OrderID: inv.OrderID, Invoice: inv}, nil
	}

	pending, err := e.invoices.PendingByUserEvent(ctx, userID, eventID)
	if err != nil && !errors.Is(err, repository.ErrInvoiceNotFound) {
		return nil, err
	}
	if pending != nil {
		if pending.Amount.Equal(ev.PriceUSD) {
			// Same price, same attempt: hand back the existing link.
			res := &ReserveResult{
				OrderID:    pending.OrderID,
				InvoiceURL: pending.InvoiceURL,
				Invoice:    pending,
			}
			res.DisplayAmount, res.DisplayCurrency = e.displayQuote(ctx, ev)
			return res, nil
		}
		// Price changed under the open invoice.  Fail it and start over
		// rather than mutate an amount the client may already be paying.
		if err := e.invoices.MarkFailed(ctx, pending.ID); err != nil {
			return nil, err
		}
	}

	orderID := uuid.NewString()
	checkoutURL, err := e.provider.CreateCheckoutInvoice(ctx, rift.CheckoutRequest{
		Amount:      ev.PriceUSD,
		Token:       e.chainAsset,
		Chain:       ev.Chain,
		Description: fmt.Sprintf("Ticket for %s", ev.Title),
		OrderID:     orderID,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout invoice: %w", err)
	}
	inv := &model.Invoice{
		UserID:     userID,
		EventID:    eventID,
		Amount:     ev.PriceUSD,
		Currency:   ev.Currency,
		Chain:      ev.Chain,
		Status:     model.InvoicePending,
		InvoiceURL: checkoutURL,
		OrderID:    orderID,
	}
	if err := e.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}
	res := &ReserveResult{OrderID: orderID, InvoiceURL: checkoutURL, Invoice: inv}
	res.DisplayAmount, res.DisplayCurrency = e.displayQuote(ctx, ev)
	return res, nil
}

// displayQuote converts the USD price into the organizer's display
// currency through the provider's exchange rate.  Purely cosmetic, so
// a rate lookup failure just drops the quote.
func (e *Engine) displayQuote(ctx context.Context, ev *model.Event) (string, string) {
	if ev.Currency == "" || strings.EqualFold(ev.Currency, "USD") {
		return "", ""
	}
	rate, err := e.provider.GetExchangeRate(ctx, ev.Currency)
	if err != nil {
		log.Printf("engine: exchange rate for %s: %v", ev.Currency, err)
		return "", ""
	}
	return ev.PriceUSD.Mul(rate.SellRate).Round(2).String(), ev.Currency
}

// ConfirmPayment takes a client-supplied payment proof for the order,
// verifies it against the matching backend, and settles the invoice.
// Authorization is per-invoice: the order must belong to the caller
// and event, otherwise nothing is mutated.  The call is idempotent:
// re-submitting the proof of an already-CONFIRMED invoice returns
// confirmed again without touching storage.
func (e *Engine) ConfirmPayment(ctx context.Context, userID string, eventID uint64, orderID string, proof model.PaymentProof) (*ConfirmResult, error) {
	inv, err := e.invoices.ByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if inv.UserID != userID || inv.EventID != eventID {
		return nil, repository.ErrForbidden
	}

	switch inv.Status {
	case model.InvoiceConfirmed:
		if inv.Proof == proof {
			monitoring.ConfirmationsTotal.WithLabelValues("duplicate").Inc()
			return &ConfirmResult{Outcome: OutcomeConfirmed, Invoice: inv, Message: "already confirmed"}, nil
		}
		return nil, ErrAlreadyConfirmed
	case model.InvoiceFailed:
		// Terminal; re-entry is a no-op report, never a retry.
		return &ConfirmResult{Outcome: OutcomeFailed, Invoice: inv, Message: "invoice already failed"}, nil
	}

	// The same proof value must not settle two invoices.
	if other, err := e.invoices.ByTransactionCode(ctx, proof.Value); err == nil && other.ID != inv.ID {
		return nil, ErrProofInUse
	} else if err != nil && !errors.Is(err, repository.ErrInvoiceNotFound) {
		return nil, err
	}

	// Record the proof before verification so a crash mid-flight still
	// leaves enough behind to retry or reap.
	if err := e.invoices.SaveProof(ctx, inv.ID, proof); err != nil {
		return nil, err
	}
	inv.Proof = proof

	switch proof.Kind {
	case model.ProofChain:
		return e.confirmChain(ctx, inv, proof.Value)
	case model.ProofMpesa:
		return e.confirmMpesa(ctx, inv, proof.Value)
	default:
		return nil, fmt.Errorf("unknown proof kind %q", proof.Kind)
	}
}

// confirmChain settles an invoice against an on-chain transfer.
func (e *Engine) confirmChain(ctx context.Context, inv *model.Invoice, hash string) (*ConfirmResult, error) {
	res, err := e.chain.Validate(ctx, hash, inv.Amount)
	if errors.Is(err, chain.ErrNoTransfer) {
		return e.fail(ctx, inv, "transaction pays no matching transfer")
	}
	if err != nil {
		return e.escalateError(ctx, inv, err)
	}
	if res.Pending {
		return e.escalateByAge(ctx, inv, res.Message)
	}
	if !res.Valid {
		return e.fail(ctx, inv, res.Message)
	}
	return e.confirm(ctx, inv, res.TxHash)
}

// confirmMpesa settles an invoice against a mobile-money payment by
// polling the provider until the payment settles, conclusively fails,
// or the poll budget runs out.
func (e *Engine) confirmMpesa(ctx context.Context, inv *model.Invoice, code string) (*ConfirmResult, error) {
	res, err := e.poller.Poll(ctx, code)
	if err != nil {
		return e.escalateError(ctx, inv, err)
	}
	monitoring.PollAttemptsTotal.Add(float64(res.Attempts))
	if res.Success {
		return e.confirm(ctx, inv, res.ReceiptNumber)
	}
	if res.Failed {
		return e.fail(ctx, inv, fmt.Sprintf("payment %s", res.Status))
	}
	// Budget exhausted with the payment still unsettled.  That is not
	// proof of failure; only age turns it into one.
	return e.escalateByAge(ctx, inv, "payment not settled yet")
}

// escalateByAge decides what an ambiguous verification outcome means.
// Young invoices stay PENDING so the client can retry; invoices older
// than the pending budget are conclusively failed.
func (e *Engine) escalateByAge(ctx context.Context, inv *model.Invoice, msg string) (*ConfirmResult, error) {
	if inv.Age(e.now()) >= e.pendingMaxAge {
		return e.fail(ctx, inv, msg+" (pending budget exhausted)")
	}
	monitoring.ConfirmationsTotal.WithLabelValues("pending").Inc()
	return &ConfirmResult{Outcome: OutcomePending, Invoice: inv, Message: msg}, nil
}

// escalateError handles a verification attempt that errored outright
// (RPC down, provider unreachable).  The payment state is as unknown
// as an exhausted poll, so age decides the same way: an expired
// invoice is conclusively failed; a young one surfaces the error so
// the client retries.
func (e *Engine) escalateError(ctx context.Context, inv *model.Invoice, err error) (*ConfirmResult, error) {
	monitoring.ConfirmationsTotal.WithLabelValues("error").Inc()
	if inv.Age(e.now()) >= e.pendingMaxAge {
		return e.fail(ctx, inv, "payment verification unavailable (pending budget exhausted)")
	}
	return nil, err
}

// confirm commits the CONFIRMED invoice and reservation atomically and
// dispatches the ticket notification.  The commit runs on a context
// detached from the request so a client disconnect after verification
// cannot abort it.
func (e *Engine) confirm(ctx context.Context, inv *model.Invoice, receipt string) (*ConfirmResult, error) {
	if err := inv.Transition(model.InvoiceConfirmed); err != nil {
		return nil, err
	}
	commitCtx := context.WithoutCancel(ctx)
	if err := e.invoices.ConfirmWithRSVP(commitCtx, inv, receipt); err != nil {
		monitoring.ConfirmationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	monitoring.ConfirmationsTotal.WithLabelValues("confirmed").Inc()

	ev, err := e.events.ByID(commitCtx, inv.EventID)
	if err != nil {
		log.Printf("engine: load event %d for notification: %v", inv.EventID, err)
	} else {
		e.dispatchTicket(commitCtx, inv, ev)
	}
	return &ConfirmResult{Outcome: OutcomeConfirmed, Invoice: inv}, nil
}

// fail moves the invoice to FAILED.  The repository's status guard
// makes this a no-op when a racing writer already confirmed it.
func (e *Engine) fail(ctx context.Context, inv *model.Invoice, msg string) (*ConfirmResult, error) {
	if err := e.invoices.MarkFailed(context.WithoutCancel(ctx), inv.ID); err != nil {
		return nil, err
	}
	inv.Status = model.InvoiceFailed
	monitoring.ConfirmationsTotal.WithLabelValues("failed").Inc()
	return &ConfirmResult{Outcome: OutcomeFailed, Invoice: inv, Message: msg}, nil
}

// dispatchTicket publishes the ticket.issued event and flags the
// invoice.  Best-effort: a broker outage never rolls back a confirmed
// reservation.
func (e *Engine) dispatchTicket(ctx context.Context, inv *model.Invoice, ev *model.Event) {
	if e.notify == nil || inv.TicketEmailSent {
		return
	}
	err := e.notify(ctx, queue.TicketIssuedEvent{
		InvoiceID:     inv.ID,
		OrderID:       inv.OrderID,
		UserID:        inv.UserID,
		EventID:       inv.EventID,
		EventTitle:    ev.Title,
		Amount:        inv.Amount.String(),
		Currency:      inv.Currency,
		ReceiptNumber: inv.ReceiptNumber,
		ConfirmedAt:   e.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("engine: ticket notification for invoice %d failed: %v", inv.ID, err)
		return
	}
	if err := e.invoices.MarkTicketEmailSent(ctx, inv.ID); err != nil {
		log.Printf("engine: mark ticket sent for invoice %d failed: %v", inv.ID, err)
	}
	inv.TicketEmailSent = true
}

// PayFromWallet settles a reservation directly from the user's
// provider-held wallet: balance check, transfer to the organizer
// wallet, then an immediately-CONFIRMED invoice.  userToken is the
// caller's own provider bearer token.
func (e *Engine) PayFromWallet(ctx context.Context, userToken, userID string, eventID uint64) (*ConfirmResult, error) {
	ev, err := e.events.ByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.OrganizerWallet == "" {
		return nil, ErrNoWallet
	}
	if !strings.EqualFold(ev.Chain, e.chainName) {
		return nil, fmt.Errorf("event settles on unsupported chain %q", ev.Chain)
	}

	latest, err := e.invoices.LatestByUserEvent(ctx, userID, eventID)
	if err != nil && !errors.Is(err, repository.ErrInvoiceNotFound) {
		return nil, err
	}
	if latest != nil && latest.Status == model.InvoiceConfirmed {
		return nil, ErrAlreadyConfirmed
	}

	taken, err := e.events.ConfirmedCount(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if taken >= ev.Capacity {
		return nil, ErrEventFull
	}

	balances, err := e.provider.GetWalletBalance(ctx, userToken, e.chainAsset, ev.Chain)
	if err != nil {
		return nil, fmt.Errorf("wallet balance: %w", err)
	}
	available := decimal.Zero
	for _, b := range balances {
		available = available.Add(b.Amount)
	}
	if available.LessThan(ev.PriceUSD) {
		return nil, ErrInsufficientBalance
	}

	txHash, err := e.provider.SendTransfer(ctx, userToken, rift.TransferRequest{
		To:     ev.OrganizerWallet,
		Amount: ev.PriceUSD,
		Token:  e.chainAsset,
		Chain:  ev.Chain,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet transfer: %w", err)
	}

	// Funds have moved; everything past this point must land even if
	// the client goes away.
	commitCtx := context.WithoutCancel(ctx)
	inv := &model.Invoice{
		UserID:        userID,
		EventID:       eventID,
		Amount:        ev.PriceUSD,
		Currency:      ev.Currency,
		Chain:         ev.Chain,
		Proof:         model.PaymentProof{Kind: model.ProofChain, Value: txHash},
		ReceiptNumber: txHash,
		OrderID:       uuid.NewString(),
	}
	if err := e.invoices.CreateConfirmedWithRSVP(commitCtx, inv); err != nil {
		monitoring.ConfirmationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	monitoring.ConfirmationsTotal.WithLabelValues("confirmed").Inc()
	e.dispatchTicket(commitCtx, inv, ev)
	return &ConfirmResult{Outcome: OutcomeConfirmed, Invoice: inv}, nil
}

// StatusResult is the answer of InvoiceStatus.
type StatusResult struct {
	HasInvoice bool           `json:"has_invoice"`
	CleanedUp  bool           `json:"cleaned_up"`
	Invoice    *model.Invoice `json:"-"`
}

// InvoiceStatus reports the latest invoice for the pair and reaps it
// opportunistically: an abandoned PENDING invoice found on read is
// deleted together with its still-PENDING reservation, so the client
// sees a clean slate instead of a corpse it can never pay.
func (e *Engine) InvoiceStatus(ctx context.Context, userID string, eventID uint64) (*StatusResult, error) {
	inv, err := e.invoices.LatestByUserEvent(ctx, userID, eventID)
	if errors.Is(err, repository.ErrInvoiceNotFound) {
		return &StatusResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	if inv.Abandoned(e.now(), e.pendingMaxAge) {
		if err := e.invoices.DeleteWithPendingRSVP(ctx, inv); err != nil {
			return nil, err
		}
		monitoring.ReapedInvoicesTotal.Inc()
		return &StatusResult{CleanedUp: true}, nil
	}
	return &StatusResult{HasInvoice: true, Invoice: inv}, nil
}

// HandleWebhook applies an asynchronous settlement notice from the
// payments provider, keyed by transaction code because the provider
// never sees our order ids.  Success confirms; failure removes the
// invoice and any still-PENDING reservation.  Deliveries for invoices
// already settled through the synchronous path are acknowledged
// without acting on them.
func (e *Engine) HandleWebhook(ctx context.Context, code, receipt string, failed bool) error {
	inv, err := e.invoices.ByTransactionCode(ctx, code)
	if errors.Is(err, repository.ErrInvoiceNotFound) {
		monitoring.WebhookDeliveriesTotal.WithLabelValues("ignored").Inc()
		return nil
	}
	if err != nil {
		return err
	}

	if failed {
		if inv.Status == model.InvoiceConfirmed {
			monitoring.WebhookDeliveriesTotal.WithLabelValues("ignored").Inc()
			return nil
		}
		if err := e.invoices.DeleteWithPendingRSVP(ctx, inv); err != nil {
			return err
		}
		monitoring.WebhookDeliveriesTotal.WithLabelValues("cleaned_up").Inc()
		return nil
	}

	// Terminal invoices stay terminal: a late success notice for an
	// already-settled (or already-failed) invoice is acknowledged and
	// dropped, never retried into an illegal transition.
	if inv.Status != model.InvoicePending {
		monitoring.WebhookDeliveriesTotal.WithLabelValues("ignored").Inc()
		return nil
	}
	if receipt == "" {
		receipt = code
	}
	if _, err := e.confirm(ctx, inv, receipt); err != nil {
		return err
	}
	monitoring.WebhookDeliveriesTotal.WithLabelValues("confirmed").Inc()
	return nil
}
