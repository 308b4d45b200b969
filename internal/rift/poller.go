package rift

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// pollWaits is the wait schedule between status checks.  The first
// check runs immediately; the total wall-clock budget is the sum of
// the waits, just under a minute.
var pollWaits = []time.Duration{
	2 * time.Second,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

// StatusFetcher fetches the settlement state of one transaction code.
// *Client satisfies it; tests supply fakes.
type StatusFetcher interface {
	GetOrderStatus(ctx context.Context, code string) (*OrderStatus, error)
}

// PollResult is the outcome of one bounded polling run.
//
// Success and Failed are mutually exclusive; both false means the
// budget ran out with the payment still unsettled.  That ambiguous
// outcome is NOT a failure: the payment may still settle later, and
// the caller decides between retry and escalation.
type PollResult struct {
	Success       bool
	Failed        bool
	ReceiptNumber string
	Status        string
	Attempts      int
}

// Poller watches a mobile-money transaction until it settles, fails,
// or the bounded schedule runs out.
type Poller struct {
	fetcher StatusFetcher
	waits   []time.Duration
}

// NewPoller returns a Poller using the default wait schedule.
func NewPoller(f StatusFetcher) *Poller {
	return &Poller{fetcher: f, waits: pollWaits}
}

// Poll checks the transaction code immediately and then once after
// each scheduled wait, stopping early on a terminal answer.  A
// non-empty receipt number is terminal success; a "failed" or
// "cancelled" status (case-insensitive) is terminal failure.
// Transport errors abort the run and propagate.  Waits honour context
// cancellation.
func (p *Poller) Poll(ctx context.Context, code string) (*PollResult, error) {
	res := &PollResult{}
	for attempt := 0; ; attempt++ {
		status, err := p.fetcher.GetOrderStatus(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("poll attempt %d: %w", attempt+1, err)
		}
		res.Attempts = attempt + 1
		res.Status = status.Status
		if status.ReceiptNumber != "" {
			res.Success = true
			res.ReceiptNumber = status.ReceiptNumber
			return res, nil
		}
		if terminalFailure(status.Status) {
			res.Failed = true
			return res, nil
		}
		if attempt >= len(p.waits) {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.waits[attempt]):
		}
	}
}

// terminalFailure reports whether the provider status text means the
// payment can never settle.
func terminalFailure(status string) bool {
	switch strings.ToLower(status) {
	case "failed", "cancelled":
		return true
	}
	return false
}
