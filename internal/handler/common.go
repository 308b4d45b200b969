package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/kwachira/tikiti/internal/model"
)

// validate is shared across handlers; validator.Validate is safe for
// concurrent use.
var validate = validator.New()

// getUserID extracts the authenticated subject placed in context by
// the JWT middleware.  Subjects are opaque identity-provider strings.
func getUserID(c echo.Context) (string, error) {
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v, nil
	}
	return "", errors.New("missing user_id in context")
}

// getUserToken extracts the caller's raw bearer token, needed for
// wallet operations performed against the payments provider on the
// caller's behalf.
func getUserToken(c echo.Context) (string, error) {
	if v, ok := c.Get("user_token").(string); ok && v != "" {
		return v, nil
	}
	return "", errors.New("missing user_token in context")
}

// parseEventID parses the :id path parameter.
func parseEventID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid event id")
	}
	return id, nil
}

// invoiceView shapes an invoice for JSON responses.  The payment proof
// value is echoed back so clients can tell which submission settled.
func invoiceView(inv *model.Invoice) echo.Map {
	return echo.Map{
		"order_id":       inv.OrderID,
		"event_id":       inv.EventID,
		"amount":         inv.Amount.String(),
		"currency":       inv.Currency,
		"chain":          inv.Chain,
		"status":         inv.Status,
		"proof_kind":     inv.Proof.Kind,
		"proof_value":    inv.Proof.Value,
		"receipt_number": inv.ReceiptNumber,
		"invoice_url":    inv.InvoiceURL,
		"created_at":     inv.CreatedAt.UTC().Format(time.RFC3339),
	}
}
