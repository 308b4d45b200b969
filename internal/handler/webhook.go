package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kwachira/tikiti/internal/monitoring"
	"github.com/kwachira/tikiti/internal/service"
)

// WebhookHandler receives asynchronous settlement notices from the
// payments provider.  Deliveries authenticate with a shared secret
// header; the provider does not sign payloads.
type WebhookHandler struct {
	Engine *service.Engine
	Secret string
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(engine *service.Engine, secret string) *WebhookHandler {
	if engine == nil || secret == "" {
		panic("nil engine or empty secret passed to NewWebhookHandler")
	}
	return &WebhookHandler{Engine: engine, Secret: secret}
}

// riftWebhook is the provider's delivery payload.
type riftWebhook struct {
	TransactionCode string `json:"transaction_code" validate:"required"`
	ReceiptNumber   string `json:"receipt_number"`
	Status          string `json:"status" validate:"required"`
}

// Handle handles POST /v1/webhooks/rift.  Always answers 200 for
// deliveries we cannot act on (unknown transaction, already settled)
// so the provider stops redelivering; only authentication failures and
// our own storage errors are surfaced.
func (h *WebhookHandler) Handle(c echo.Context) error {
	got := c.Request().Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
		monitoring.WebhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid webhook secret"})
	}

	var body riftWebhook
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := validate.Struct(body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "transaction_code and status are required"})
	}

	failed := false
	switch strings.ToLower(body.Status) {
	case "failed", "cancelled":
		failed = true
	}

	if err := h.Engine.HandleWebhook(c.Request().Context(), body.TransactionCode, body.ReceiptNumber, failed); err != nil {
		c.Logger().Errorf("webhook: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to apply webhook"})
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
