// Package rift is the client for the external Rift payments API:
// order status lookups, exchange rates, wallet balances, transfers
// and checkout invoice creation.  The service API key is fixed at
// construction; user-scoped calls take the user's bearer token as an
// explicit parameter so no token state is ever shared across
// requests.
package rift

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// rateCacheTTL bounds how stale a cached exchange rate may be.
const rateCacheTTL = 5 * time.Minute

// Client talks to the Rift payments backend.
type Client struct {
	// baseURL is the base url of the Rift API.
	baseURL string

	// apiKey authenticates this service for non-user-scoped calls.
	apiKey string

	// rdb is an optional redis client caching exchange rates.  Nil
	// disables caching; every lookup then hits the API.
	rdb *redis.Client

	// hc is the http client.
	hc *http.Client
}

// NewClient creates a new Rift client.
func NewClient(baseURL, apiKey string, rdb *redis.Client) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		rdb:     rdb,
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// OrderStatus is the provider's view of one mobile-money order.  A
// non-empty ReceiptNumber means the payment settled; Status carries
// the provider's state text otherwise.
type OrderStatus struct {
	ReceiptNumber string `json:"receipt_number"`
	Status        string `json:"status"`
}

// Rate is a currency exchange quote against USD.
type Rate struct {
	BuyRate  decimal.Decimal `json:"buy_rate"`
	SellRate decimal.Decimal `json:"sell_rate"`
}

// Balance is one wallet balance entry.
type Balance struct {
	Token  string          `json:"token"`
	Chain  string          `json:"chain"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferRequest asks the provider to move funds from the caller's
// wallet to a destination address.
type TransferRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Token  string          `json:"token"`
	Chain  string          `json:"chain"`
}

// CheckoutRequest asks the provider to issue a hosted checkout
// invoice the client pays out-of-band.
type CheckoutRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Token       string          `json:"token"`
	Chain       string          `json:"chain"`
	Description string          `json:"description"`
	RedirectURL string          `json:"redirect_url"`
	OrderID     string          `json:"order_id"`
}

// GetOrderStatus fetches the settlement state of a mobile-money
// transaction code.
func (c *Client) GetOrderStatus(ctx context.Context, code string) (*OrderStatus, error) {
	var out OrderStatus
	path := "/v1/orders/status?code=" + url.QueryEscape(code)
	if err := c.do(ctx, http.MethodGet, path, c.apiKey, nil, &out); err != nil {
		return nil, fmt.Errorf("getOrderStatus: %w", err)
	}
	return &out, nil
}

// GetExchangeRate returns the USD exchange quote for a currency,
// read through the optional redis cache.  Cache failures only cost a
// network round trip, never the request.
func (c *Client) GetExchangeRate(ctx context.Context, currency string) (*Rate, error) {
	cacheKey := "rift:rate:" + currency
	if c.rdb != nil {
		if raw, err := c.rdb.Get(ctx, cacheKey).Result(); err == nil {
			var cached Rate
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return &cached, nil
			}
		}
	}
	var out Rate
	path := "/v1/rates?currency=" + url.QueryEscape(currency)
	if err := c.do(ctx, http.MethodGet, path, c.apiKey, nil, &out); err != nil {
		return nil, fmt.Errorf("getExchangeRate: %w", err)
	}
	if c.rdb != nil {
		if raw, err := json.Marshal(out); err == nil {
			if err := c.rdb.Set(ctx, cacheKey, raw, rateCacheTTL).Err(); err != nil {
				log.Printf("rift: rate cache write failed: %v", err)
			}
		}
	}
	return &out, nil
}

// GetWalletBalance lists the user's wallet balances for a token on a
// chain.  userToken is the caller's own bearer token.
func (c *Client) GetWalletBalance(ctx context.Context, userToken, token, chainName string) ([]Balance, error) {
	var out []Balance
	path := fmt.Sprintf("/v1/wallet/balances?token=%s&chain=%s",
		url.QueryEscape(token), url.QueryEscape(chainName))
	if err := c.do(ctx, http.MethodGet, path, userToken, nil, &out); err != nil {
		return nil, fmt.Errorf("getWalletBalance: %w", err)
	}
	return out, nil
}

// SendTransfer moves funds from the caller's wallet and returns the
// settlement transaction hash.
func (c *Client) SendTransfer(ctx context.Context, userToken string, req TransferRequest) (string, error) {
	var out struct {
		TransactionHash string `json:"transaction_hash"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/wallet/transfer", userToken, req, &out); err != nil {
		return "", fmt.Errorf("sendTransfer: %w", err)
	}
	return out.TransactionHash, nil
}

// CreateCheckoutInvoice issues a hosted checkout link for an order.
func (c *Client) CreateCheckoutInvoice(ctx context.Context, req CheckoutRequest) (string, error) {
	var out struct {
		CheckoutURL string `json:"checkout_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/invoices", c.apiKey, req, &out); err != nil {
		return "", fmt.Errorf("createCheckoutInvoice: %w", err)
	}
	return out.CheckoutURL, nil
}

// do performs one JSON request against the Rift API.  token goes
// into the Authorization header; body (when non-nil) is marshalled as
// JSON; the response body is decoded into out.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("http.NewRequest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var reply struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&reply)
		return fmt.Errorf("status %d: %s", resp.StatusCode, reply.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("json.Decode: %w", err)
	}
	return nil
}
