package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwachira/tikiti/internal/chain"
	"github.com/kwachira/tikiti/internal/model"
	"github.com/kwachira/tikiti/internal/queue"
	"github.com/kwachira/tikiti/internal/repository"
	"github.com/kwachira/tikiti/internal/rift"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func pairKey(userID string, eventID uint64) string {
	return fmt.Sprintf("%s|%d", userID, eventID)
}

// fakeInvoices is an in-memory InvoiceStore mirroring the repository's
// guard semantics.
type fakeInvoices struct {
	byID   map[uint64]*model.Invoice
	rsvps  map[string]model.RSVPStatus
	nextID uint64
	reaped int64
}

func newFakeInvoices() *fakeInvoices {
	return &fakeInvoices{
		byID:  make(map[uint64]*model.Invoice),
		rsvps: make(map[string]model.RSVPStatus),
	}
}

func (f *fakeInvoices) Create(ctx context.Context, inv *model.Invoice) error {
	f.nextID++
	inv.ID = f.nextID
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = fixedNow
	}
	cp := *inv
	f.byID[inv.ID] = &cp
	return nil
}

func (f *fakeInvoices) CreateConfirmedWithRSVP(ctx context.Context, inv *model.Invoice) error {
	inv.Status = model.InvoiceConfirmed
	if err := f.Create(ctx, inv); err != nil {
		return err
	}
	f.rsvps[pairKey(inv.UserID, inv.EventID)] = model.RSVPConfirmed
	return nil
}

func (f *fakeInvoices) ByOrderID(ctx context.Context, orderID string) (*model.Invoice, error) {
	for _, inv := range f.byID {
		if inv.OrderID == orderID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, repository.ErrInvoiceNotFound
}

func (f *fakeInvoices) ByTransactionCode(ctx context.Context, code string) (*model.Invoice, error) {
	for _, inv := range f.byID {
		if inv.Proof.Value == code && code != "" {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, repository.ErrInvoiceNotFound
}

func (f *fakeInvoices) PendingByUserEvent(ctx context.Context, userID string, eventID uint64) (*model.Invoice, error) {
	var best *model.Invoice
	for _, inv := range f.byID {
		if inv.UserID == userID && inv.EventID == eventID && inv.Status == model.InvoicePending {
			if best == nil || inv.ID > best.ID {
				best = inv
			}
		}
	}
	if best == nil {
		return nil, repository.ErrInvoiceNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *fakeInvoices) LatestByUserEvent(ctx context.Context, userID string, eventID uint64) (*model.Invoice, error) {
	var best *model.Invoice
	for _, inv := range f.byID {
		if inv.UserID == userID && inv.EventID == eventID {
			if best == nil || inv.ID > best.ID {
				best = inv
			}
		}
	}
	if best == nil {
		return nil, repository.ErrInvoiceNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *fakeInvoices) SaveProof(ctx context.Context, id uint64, proof model.PaymentProof) error {
	if inv, ok := f.byID[id]; ok {
		inv.Proof = proof
	}
	return nil
}

func (f *fakeInvoices) MarkFailed(ctx context.Context, id uint64) error {
	if inv, ok := f.byID[id]; ok && inv.Status == model.InvoicePending {
		inv.Status = model.InvoiceFailed
	}
	return nil
}

func (f *fakeInvoices) ConfirmWithRSVP(ctx context.Context, inv *model.Invoice, receipt string) error {
	stored, ok := f.byID[inv.ID]
	if !ok {
		return repository.ErrInvoiceNotFound
	}
	if stored.Status == model.InvoicePending || stored.Status == model.InvoiceConfirmed {
		stored.Status = model.InvoiceConfirmed
		stored.ReceiptNumber = receipt
	}
	f.rsvps[pairKey(inv.UserID, inv.EventID)] = model.RSVPConfirmed
	inv.Status = model.InvoiceConfirmed
	inv.ReceiptNumber = receipt
	return nil
}

func (f *fakeInvoices) Delete(ctx context.Context, id uint64) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeInvoices) DeleteWithPendingRSVP(ctx context.Context, inv *model.Invoice) error {
	delete(f.byID, inv.ID)
	key := pairKey(inv.UserID, inv.EventID)
	if f.rsvps[key] == model.RSVPPending {
		delete(f.rsvps, key)
	}
	return nil
}

func (f *fakeInvoices) MarkTicketEmailSent(ctx context.Context, id uint64) error {
	if inv, ok := f.byID[id]; ok {
		inv.TicketEmailSent = true
	}
	return nil
}

func (f *fakeInvoices) ReapAbandoned(ctx context.Context, maxAge time.Duration) (int64, error) {
	return f.reaped, nil
}

// fakeEvents serves events and confirmed counts.
type fakeEvents struct {
	events    map[uint64]*model.Event
	confirmed map[uint64]uint32
}

func (f *fakeEvents) ByID(ctx context.Context, id uint64) (*model.Event, error) {
	ev, ok := f.events[id]
	if !ok {
		return nil, repository.ErrEventNotFound
	}
	return ev, nil
}

func (f *fakeEvents) ConfirmedCount(ctx context.Context, eventID uint64) (uint32, error) {
	return f.confirmed[eventID], nil
}

type fakeChainValidator struct {
	res *chain.Result
	err error
}

func (f *fakeChainValidator) Validate(ctx context.Context, hash string, expected decimal.Decimal) (*chain.Result, error) {
	return f.res, f.err
}

type fakePoller struct {
	res *rift.PollResult
	err error
}

func (f *fakePoller) Poll(ctx context.Context, code string) (*rift.PollResult, error) {
	return f.res, f.err
}

type fakeProvider struct {
	checkoutURL   string
	checkoutCalls int
	balances      []rift.Balance
	txHash        string
}

func (f *fakeProvider) CreateCheckoutInvoice(ctx context.Context, req rift.CheckoutRequest) (string, error) {
	f.checkoutCalls++
	return f.checkoutURL, nil
}

func (f *fakeProvider) GetExchangeRate(ctx context.Context, currency string) (*rift.Rate, error) {
	return &rift.Rate{BuyRate: decimal.NewFromInt(129), SellRate: decimal.NewFromInt(130)}, nil
}

func (f *fakeProvider) GetWalletBalance(ctx context.Context, userToken, token, chainName string) ([]rift.Balance, error) {
	return f.balances, nil
}

func (f *fakeProvider) SendTransfer(ctx context.Context, userToken string, req rift.TransferRequest) (string, error) {
	return f.txHash, nil
}

type fixture struct {
	invoices *fakeInvoices
	events   *fakeEvents
	chain    *fakeChainValidator
	poller   *fakePoller
	provider *fakeProvider
	notified []queue.TicketIssuedEvent
	engine   *Engine
}

func newFixture() *fixture {
	f := &fixture{
		invoices: newFakeInvoices(),
		events: &fakeEvents{
			events: map[uint64]*model.Event{
				1: {ID: 1, Title: "Go Meetup", PriceUSD: decimal.NewFromInt(5), Currency: "USD",
					Capacity: 100, OrganizerID: "org-1", OrganizerWallet: "0xorganizer", Chain: "base"},
				2: {ID: 2, Title: "Community Day", PriceUSD: decimal.Zero, Currency: "USD",
					Capacity: 100, OrganizerID: "org-1", Chain: "base"},
			},
			confirmed: map[uint64]uint32{},
		},
		chain:    &fakeChainValidator{},
		poller:   &fakePoller{},
		provider: &fakeProvider{checkoutURL: "https://pay.example/inv/1", txHash: "0xwallethash"},
	}
	notify := func(ctx context.Context, ev queue.TicketIssuedEvent) error {
		f.notified = append(f.notified, ev)
		return nil
	}
	f.engine = NewEngine(f.invoices, f.events, f.chain, f.poller, f.provider, notify,
		"base", "usdc", time.Minute)
	f.engine.now = func() time.Time { return fixedNow }
	return f
}

// pendingInvoice seeds an open invoice directly into the store.
func (f *fixture) pendingInvoice(userID string, eventID uint64, age time.Duration) *model.Invoice {
	inv := &model.Invoice{
		UserID:    userID,
		EventID:   eventID,
		Amount:    decimal.NewFromInt(5),
		Currency:  "USD",
		Chain:     "base",
		Status:    model.InvoicePending,
		OrderID:   fmt.Sprintf("order-%d", f.invoices.nextID+1),
		CreatedAt: fixedNow.Add(-age),
	}
	_ = f.invoices.Create(context.Background(), inv)
	return inv
}

func TestReserveFreeEventConfirmsImmediately(t *testing.T) {
	f := newFixture()
	res, err := f.engine.Reserve(context.Background(), "u1", 2)
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, model.RSVPConfirmed, f.invoices.rsvps[pairKey("u1", 2)])
	require.Len(t, f.notified, 1)
	assert.Equal(t, "Community Day", f.notified[0].EventTitle)
	assert.Equal(t, "FREE", res.Invoice.ReceiptNumber)
}

func TestReservePaidEventIssuesCheckout(t *testing.T) {
	f := newFixture()
	res, err := f.engine.Reserve(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Equal(t, "https://pay.example/inv/1", res.InvoiceURL)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 1, f.provider.checkoutCalls)
}

func TestReserveReusesOpenInvoice(t *testing.T) {
	f := newFixture()
	first, err := f.engine.Reserve(context.Background(), "u1", 1)
	require.NoError(t, err)

	second, err := f.engine.Reserve(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, f.provider.checkoutCalls, "no second checkout for the same open invoice")
}

func TestReservePriceChangeFailsOldInvoice(t *testing.T) {
	f := newFixture()
	old := f.pendingInvoice("u1", 1, 10*time.Second)
	f.events.events[1].PriceUSD = decimal.NewFromInt(8)

	res, err := f.engine.Reserve(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.NotEqual(t, old.OrderID, res.OrderID)
	assert.Equal(t, model.InvoiceFailed, f.invoices.byID[old.ID].Status)
	assert.True(t, res.Invoice.Amount.Equal(decimal.NewFromInt(8)))
}

func TestReserveFullEvent(t *testing.T) {
	f := newFixture()
	f.events.confirmed[1] = 100
	_, err := f.engine.Reserve(context.Background(), "u1", 1)
	assert.ErrorIs(t, err, ErrEventFull)
}

func TestReserveAlreadyConfirmed(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 0)
	require.NoError(t, f.invoices.ConfirmWithRSVP(context.Background(), inv, "RCP1"))

	_, err := f.engine.Reserve(context.Background(), "u1", 1)
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
}

func TestConfirmChainPaymentSuccess(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	f.chain.res = &chain.Result{Valid: true, TxHash: "0xabc"}

	res, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, inv.OrderID,
		model.PaymentProof{Kind: model.ProofChain, Value: "0xabc"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, "0xabc", res.Invoice.ReceiptNumber)
	assert.Equal(t, model.RSVPConfirmed, f.invoices.rsvps[pairKey("u1", 1)])
	require.Len(t, f.notified, 1)
}

func TestConfirmChainPaymentIdempotent(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	f.chain.res = &chain.Result{Valid: true, TxHash: "0xabc"}
	proof := model.PaymentProof{Kind: model.ProofChain, Value: "0xabc"}

	_, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, inv.OrderID, proof)
	require.NoError(t, err)

	// duplicate callback with the same proof after settlement
	res, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, inv.OrderID, proof)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Len(t, f.notified, 1, "no duplicate ticket notification")
}

func TestConfirmChainPendingYoungInvoice(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	f.chain.res = &chain.Result{Pending: true, Message: "transaction not minable yet"}

	res, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, inv.OrderID,
		model.PaymentProof{Kind: model.ProofChain, Value: "0xpending"})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, model.InvoicePending, f.invoices.byID[inv.ID].Status, "young invoices stay open")
}

func TestConfirmChainPendingOldInvoiceEscalates(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 90*time.Second)
	f.chain.res = &chain.Result{Pending: true, Message: "transaction not minable yet"}

	res, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, inv.OrderID,
		model.PaymentProof{Kind: model.ProofChain, Value: "0xpending"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, model.InvoiceFailed, f.invoices.byID[inv.ID].Status)
}

func TestConfirmChainInsufficientAmountFails(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	f.chain.res = &chain.Result{Valid: false, Message: "insufficient amount: paid 3, expected 5"}

	res, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, inv.OrderID,
		model.PaymentProof{Kind: model.ProofChain, Value: "0xshort"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, model.InvoiceFailed, f.invoices.byID[inv.ID].Status)
	assert.Empty(t, f.invoices.rsvps[pairKey("u1", 1)])
}

func TestConfirmMpesaSuccess(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	f.poller.res = &rift.PollResult{Success: true, ReceiptNumber: "RCP7", Attempts: 2}

	res, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, inv.OrderID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TX777777"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, "RCP7", res.Invoice.ReceiptNumber)
}

func TestConfirmMpesaTerminalFailure(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	f.poller.res = &rift.PollResult{Failed: true, Status: "cancelled", Attempts: 1}

	res, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, inv.OrderID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TX777777"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, model.InvoiceFailed, f.invoices.byID[inv.ID].Status)
}

func TestConfirmMpesaAmbiguousDependsOnAge(t *testing.T) {
	f := newFixture()
	f.poller.res = &rift.PollResult{Status: "processing", Attempts: 5}

	young := f.pendingInvoice("u1", 1, 10*time.Second)
	res, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, young.OrderID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXAAAAAA"})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, model.InvoicePending, f.invoices.byID[young.ID].Status)

	old := f.pendingInvoice("u2", 1, 2*time.Minute)
	res, err = f.engine.ConfirmPayment(context.Background(), "u2", 1, old.OrderID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXBBBBBB"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, model.InvoiceFailed, f.invoices.byID[old.ID].Status)
}

func TestConfirmMpesaProviderErrorDependsOnAge(t *testing.T) {
	f := newFixture()
	f.poller.err = errors.New("provider unreachable")

	young := f.pendingInvoice("u1", 1, 10*time.Second)
	_, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, young.OrderID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXAAAAAA"})
	assert.ErrorContains(t, err, "provider unreachable")
	assert.Equal(t, model.InvoicePending, f.invoices.byID[young.ID].Status, "young invoices survive a flaky provider")

	old := f.pendingInvoice("u2", 1, 2*time.Minute)
	res, err := f.engine.ConfirmPayment(context.Background(), "u2", 1, old.OrderID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXBBBBBB"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, model.InvoiceFailed, f.invoices.byID[old.ID].Status)
}

func TestConfirmChainRPCErrorExpiredInvoiceEscalates(t *testing.T) {
	f := newFixture()
	f.chain.err = errors.New("rpc: connection refused")
	inv := f.pendingInvoice("u1", 1, 2*time.Minute)

	res, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, inv.OrderID,
		model.PaymentProof{Kind: model.ProofChain, Value: "0xunreachable"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, model.InvoiceFailed, f.invoices.byID[inv.ID].Status)
	assert.Empty(t, f.invoices.rsvps[pairKey("u1", 1)])
}

func TestConfirmRejectsProofUsedElsewhere(t *testing.T) {
	f := newFixture()
	other := f.pendingInvoice("u2", 1, 10*time.Second)
	require.NoError(t, f.invoices.SaveProof(context.Background(), other.ID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXSHARED"}))

	mine := f.pendingInvoice("u1", 1, 10*time.Second)
	_, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, mine.OrderID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXSHARED"})
	assert.ErrorIs(t, err, ErrProofInUse)
}

func TestConfirmRejectsForeignOrder(t *testing.T) {
	f := newFixture()
	other := f.pendingInvoice("u2", 1, 10*time.Second)

	_, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, other.OrderID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TX999999"})
	assert.ErrorIs(t, err, repository.ErrForbidden)
	assert.Equal(t, model.InvoicePending, f.invoices.byID[other.ID].Status, "no mutation on unauthorized confirm")
	assert.True(t, f.invoices.byID[other.ID].Proof.Empty())
}

func TestConfirmFailedInvoiceIsTerminalNoop(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	require.NoError(t, f.invoices.MarkFailed(context.Background(), inv.ID))

	res, err := f.engine.ConfirmPayment(context.Background(), "u1", 1, inv.OrderID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TX999999"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, f.invoices.byID[inv.ID].Proof.Empty(), "terminal invoices are never touched")
}

func TestPayFromWallet(t *testing.T) {
	f := newFixture()
	f.provider.balances = []rift.Balance{{Token: "usdc", Chain: "base", Amount: decimal.NewFromInt(20)}}

	res, err := f.engine.PayFromWallet(context.Background(), "user-token", "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, "0xwallethash", res.Invoice.ReceiptNumber)
	assert.Equal(t, model.RSVPConfirmed, f.invoices.rsvps[pairKey("u1", 1)])
	require.Len(t, f.notified, 1)
}

func TestPayFromWalletInsufficientBalance(t *testing.T) {
	f := newFixture()
	f.provider.balances = []rift.Balance{{Token: "usdc", Chain: "base", Amount: decimal.NewFromInt(2)}}

	_, err := f.engine.PayFromWallet(context.Background(), "user-token", "u1", 1)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, f.invoices.byID, "no invoice is created when funds never moved")
}

func TestInvoiceStatusNoInvoice(t *testing.T) {
	f := newFixture()
	res, err := f.engine.InvoiceStatus(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.False(t, res.HasInvoice)
	assert.False(t, res.CleanedUp)
}

func TestInvoiceStatusReapsAbandoned(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 2*time.Minute)
	require.NoError(t, f.invoices.SaveProof(context.Background(), inv.ID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXDEAD"}))
	f.invoices.rsvps[pairKey("u1", 1)] = model.RSVPPending

	res, err := f.engine.InvoiceStatus(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.True(t, res.CleanedUp)
	assert.False(t, res.HasInvoice)
	assert.Empty(t, f.invoices.byID)
	assert.Empty(t, f.invoices.rsvps, "the pending reservation goes with the invoice")
}

func TestInvoiceStatusKeepsLiveInvoice(t *testing.T) {
	f := newFixture()
	// old but proof-less: the client never started paying, nothing to reap
	f.pendingInvoice("u1", 1, 2*time.Minute)

	res, err := f.engine.InvoiceStatus(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.True(t, res.HasInvoice)
	assert.False(t, res.CleanedUp)
}

func TestHandleWebhookSuccessConfirms(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	require.NoError(t, f.invoices.SaveProof(context.Background(), inv.ID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXHOOK"}))

	require.NoError(t, f.engine.HandleWebhook(context.Background(), "TXHOOK", "RCP42", false))
	assert.Equal(t, model.InvoiceConfirmed, f.invoices.byID[inv.ID].Status)
	assert.Equal(t, "RCP42", f.invoices.byID[inv.ID].ReceiptNumber)
	assert.Equal(t, model.RSVPConfirmed, f.invoices.rsvps[pairKey("u1", 1)])
}

func TestHandleWebhookUnknownCodeIsNoop(t *testing.T) {
	f := newFixture()
	assert.NoError(t, f.engine.HandleWebhook(context.Background(), "TXUNKNOWN", "", false))
}

func TestHandleWebhookFailureCleansUp(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	require.NoError(t, f.invoices.SaveProof(context.Background(), inv.ID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXHOOK"}))
	f.invoices.rsvps[pairKey("u1", 1)] = model.RSVPPending

	require.NoError(t, f.engine.HandleWebhook(context.Background(), "TXHOOK", "", true))
	assert.Empty(t, f.invoices.byID)
	assert.Empty(t, f.invoices.rsvps)
}

func TestHandleWebhookFailureSparesConfirmed(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	require.NoError(t, f.invoices.SaveProof(context.Background(), inv.ID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXHOOK"}))
	require.NoError(t, f.invoices.ConfirmWithRSVP(context.Background(), inv, "RCP1"))

	require.NoError(t, f.engine.HandleWebhook(context.Background(), "TXHOOK", "", true))
	assert.Equal(t, model.InvoiceConfirmed, f.invoices.byID[inv.ID].Status, "late failure notices never undo a confirmation")
	assert.Equal(t, model.RSVPConfirmed, f.invoices.rsvps[pairKey("u1", 1)])
}

func TestHandleWebhookSuccessOnFailedInvoiceIsNoop(t *testing.T) {
	f := newFixture()
	inv := f.pendingInvoice("u1", 1, 10*time.Second)
	require.NoError(t, f.invoices.SaveProof(context.Background(), inv.ID,
		model.PaymentProof{Kind: model.ProofMpesa, Value: "TXHOOK"}))
	require.NoError(t, f.invoices.MarkFailed(context.Background(), inv.ID))

	// A late success notice must be acknowledged, not retried forever.
	require.NoError(t, f.engine.HandleWebhook(context.Background(), "TXHOOK", "RCP9", false))
	assert.Equal(t, model.InvoiceFailed, f.invoices.byID[inv.ID].Status, "terminal invoices stay terminal")
	assert.Empty(t, f.invoices.rsvps[pairKey("u1", 1)])
}
