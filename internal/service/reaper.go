package service

import (
	"context"
	"log"
	"time"

	"github.com/kwachira/tikiti/internal/monitoring"
)

// reapInterval is how often the background sweep runs.  Much shorter
// than the pending budget so abandoned invoices never linger long
// past their deadline.
const reapInterval = 30 * time.Second

// Reaper periodically deletes PENDING invoices whose payment was
// started but never settled within the pending budget.  It backs up
// the opportunistic reap on status reads, catching clients that never
// came back to check.
type Reaper struct {
	invoices InvoiceStore
	maxAge   time.Duration
}

// NewReaper returns a Reaper sweeping with the given pending budget.
func NewReaper(invoices InvoiceStore, maxAge time.Duration) *Reaper {
	return &Reaper{invoices: invoices, maxAge: maxAge}
}

// Start runs the sweep loop until ctx is cancelled.  Call in a
// goroutine.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.invoices.ReapAbandoned(ctx, r.maxAge)
			if err != nil {
				log.Printf("reaper: sweep failed: %v", err)
				continue
			}
			if n > 0 {
				monitoring.ReapedInvoicesTotal.Add(float64(n))
				log.Printf("reaper: removed %d abandoned invoice(s)", n)
			}
		}
	}
}
