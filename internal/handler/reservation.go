package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kwachira/tikiti/internal/model"
	"github.com/kwachira/tikiti/internal/repository"
	"github.com/kwachira/tikiti/internal/service"
)

// ReservationHandler exposes the reservation lifecycle: starting an
// attempt, confirming a payment proof, paying from the provider
// wallet, and checking invoice status.  JWT authentication has already
// run; methods return 401 only when the user ID cannot be extracted
// from the context.
type ReservationHandler struct {
	Engine   *service.Engine
	RSVPRepo *repository.RSVPRepo
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(engine *service.Engine, rsvpRepo *repository.RSVPRepo) *ReservationHandler {
	if engine == nil || rsvpRepo == nil {
		panic("nil dependency passed to NewReservationHandler")
	}
	return &ReservationHandler{Engine: engine, RSVPRepo: rsvpRepo}
}

// Reserve handles POST /v1/events/:id/rsvp.  Free events confirm
// immediately (201); paid events answer 200 with the checkout link the
// client must pay, which is the same link on repeat calls while the
// invoice stays open.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID, err := parseEventID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	res, err := h.Engine.Reserve(c.Request().Context(), userID, eventID)
	switch {
	case errors.Is(err, repository.ErrEventNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
	case errors.Is(err, service.ErrEventFull):
		return c.JSON(http.StatusConflict, echo.Map{"error": "event is at capacity"})
	case errors.Is(err, service.ErrAlreadyConfirmed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "reservation already confirmed"})
	case err != nil:
		c.Logger().Errorf("reserve: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start reservation"})
	}

	if res.Confirmed {
		return c.JSON(http.StatusCreated, echo.Map{
			"confirmed": true,
			"invoice":   invoiceView(res.Invoice),
		})
	}
	reply := echo.Map{
		"confirmed":   false,
		"order_id":    res.OrderID,
		"invoice_url": res.InvoiceURL,
	}
	if res.DisplayAmount != "" {
		reply["display_amount"] = res.DisplayAmount
		reply["display_currency"] = res.DisplayCurrency
	}
	return c.JSON(http.StatusOK, reply)
}

// confirmRequest is the body of the confirm endpoint: the order being
// settled plus exactly one payment proof, a mobile-money code or an
// on-chain transaction hash.
type confirmRequest struct {
	OrderID   string `json:"order_id" validate:"required,uuid4"`
	MpesaCode string `json:"mpesa_code" validate:"omitempty,min=6,max=64"`
	TxHash    string `json:"tx_hash" validate:"omitempty,startswith=0x,min=10,max=128"`
}

// Confirm handles POST /v1/events/:id/rsvp/confirm.  The request can
// legitimately block for most of a minute while the mobile-money leg
// polls the provider.  Responses carry the terminal outcome: 200
// confirmed, 202 still pending (retry), 402 conclusively failed.
func (h *ReservationHandler) Confirm(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID, err := parseEventID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body confirmRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order_id and a valid payment proof are required"})
	}
	if (body.MpesaCode == "") == (body.TxHash == "") {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "provide exactly one of mpesa_code or tx_hash"})
	}
	proof := model.PaymentProof{Kind: model.ProofMpesa, Value: body.MpesaCode}
	if body.TxHash != "" {
		proof = model.PaymentProof{Kind: model.ProofChain, Value: body.TxHash}
	}

	res, err := h.Engine.ConfirmPayment(c.Request().Context(), userID, eventID, body.OrderID, proof)
	switch {
	case errors.Is(err, repository.ErrInvoiceNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown order"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "order does not belong to you for this event"})
	case errors.Is(err, service.ErrProofInUse):
		return c.JSON(http.StatusConflict, echo.Map{"error": "payment proof already used"})
	case errors.Is(err, service.ErrAlreadyConfirmed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invoice already confirmed with a different proof"})
	case err != nil:
		c.Logger().Errorf("confirm payment: %v", err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment verification unavailable, retry"})
	}

	switch res.Outcome {
	case service.OutcomeConfirmed:
		return c.JSON(http.StatusOK, echo.Map{
			"outcome": res.Outcome,
			"invoice": invoiceView(res.Invoice),
		})
	case service.OutcomePending:
		return c.JSON(http.StatusAccepted, echo.Map{
			"outcome": res.Outcome,
			"message": res.Message,
		})
	default:
		return c.JSON(http.StatusPaymentRequired, echo.Map{
			"outcome": res.Outcome,
			"message": res.Message,
		})
	}
}

// PayWallet handles POST /v1/events/:id/rsvp/wallet: settle directly
// from the caller's provider-held wallet.
func (h *ReservationHandler) PayWallet(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	userToken, err := getUserToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID, err := parseEventID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	res, err := h.Engine.PayFromWallet(c.Request().Context(), userToken, userID, eventID)
	switch {
	case errors.Is(err, repository.ErrEventNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
	case errors.Is(err, service.ErrEventFull):
		return c.JSON(http.StatusConflict, echo.Map{"error": "event is at capacity"})
	case errors.Is(err, service.ErrAlreadyConfirmed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "reservation already confirmed"})
	case errors.Is(err, service.ErrInsufficientBalance):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "insufficient wallet balance"})
	case errors.Is(err, service.ErrNoWallet):
		return c.JSON(http.StatusConflict, echo.Map{"error": "event does not accept wallet payments"})
	case err != nil:
		c.Logger().Errorf("wallet payment: %v", err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "wallet payment failed, no funds were moved"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"outcome": res.Outcome,
		"invoice": invoiceView(res.Invoice),
	})
}

// Status handles GET /v1/events/:id/invoice.  Reading status also
// reaps an abandoned invoice, so the response distinguishes "you have
// this invoice" from "your stale attempt was just cleaned up, start
// over".
func (h *ReservationHandler) Status(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID, err := parseEventID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	res, err := h.Engine.InvoiceStatus(c.Request().Context(), userID, eventID)
	if err != nil {
		c.Logger().Errorf("invoice status: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read invoice status"})
	}
	reply := echo.Map{
		"has_invoice": res.HasInvoice,
		"cleaned_up":  res.CleanedUp,
	}
	if res.HasInvoice {
		reply["invoice"] = invoiceView(res.Invoice)
	}
	// The reservation row is reported alongside the invoice; after a
	// cleanup there is none left to show.
	rsvp, err := h.RSVPRepo.ByUserEvent(c.Request().Context(), userID, eventID)
	switch {
	case err == nil:
		reply["rsvp_status"] = rsvp.Status
	case errors.Is(err, repository.ErrRSVPNotFound):
		// no reservation yet
	default:
		c.Logger().Errorf("invoice status: load rsvp: %v", err)
	}
	return c.JSON(http.StatusOK, reply)
}
