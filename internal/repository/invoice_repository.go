package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kwachira/tikiti/internal/model"
)

// InvoiceRepo provides data access to the invoices table and owns the
// cross-entity write paths that must be atomic: confirming an invoice
// together with its reservation, and the webhook hard-cleanup that
// removes an invoice together with a still-PENDING reservation.  All
// timestamps are stored and compared in UTC.
type InvoiceRepo struct {
	db *sql.DB
}

// NewInvoiceRepo returns a new InvoiceRepo bound to the given database.
func NewInvoiceRepo(db *sql.DB) *InvoiceRepo { return &InvoiceRepo{db: db} }

const invoiceColumns = `id, user_id, event_id, amount, currency, chain, status,
	proof_kind, transaction_code, receipt_number, invoice_url, order_id,
	ticket_email_sent, created_at`

// scanInvoice reads one row laid out as invoiceColumns.
func scanInvoice(row interface{ Scan(...any) error }) (*model.Invoice, error) {
	var inv model.Invoice
	var proofKind, txCode, receipt, url sql.NullString
	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.EventID, &inv.Amount, &inv.Currency,
		&inv.Chain, &inv.Status, &proofKind, &txCode, &receipt, &url,
		&inv.OrderID, &inv.TicketEmailSent, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if proofKind.Valid && txCode.Valid {
		inv.Proof = model.PaymentProof{Kind: model.ProofKind(proofKind.String), Value: txCode.String}
	}
	if receipt.Valid {
		inv.ReceiptNumber = receipt.String
	}
	if url.Valid {
		inv.InvoiceURL = url.String
	}
	return &inv, nil
}

// Create inserts a new invoice and populates the generated ID and
// CreatedAt on the provided record.
func (r *InvoiceRepo) Create(ctx context.Context, inv *model.Invoice) error {
	const q = `INSERT INTO invoices (user_id, event_id, amount, currency, chain, status, invoice_url, order_id)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		inv.UserID, inv.EventID, inv.Amount, inv.Currency, inv.Chain,
		inv.Status, nullable(inv.InvoiceURL), inv.OrderID,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	inv.ID = uint64(id)
	// Query back the row to pick up the DB-assigned creation timestamp.
	const sel = `SELECT created_at FROM invoices WHERE id = ?`
	return r.db.QueryRowContext(ctx, sel, inv.ID).Scan(&inv.CreatedAt)
}

// CreateConfirmedWithRSVP inserts an already-CONFIRMED invoice and
// upserts the matching reservation to CONFIRMED in one transaction.
// This is the free-event and wallet-transfer path, which never passes
// through PENDING.
func (r *InvoiceRepo) CreateConfirmedWithRSVP(ctx context.Context, inv *model.Invoice) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const q = `INSERT INTO invoices (user_id, event_id, amount, currency, chain, status, proof_kind, transaction_code, receipt_number, order_id)
	           VALUES (?, ?, ?, ?, ?, 'CONFIRMED', ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		inv.UserID, inv.EventID, inv.Amount, inv.Currency, inv.Chain,
		nullable(string(inv.Proof.Kind)), nullable(inv.Proof.Value),
		nullable(inv.ReceiptNumber), inv.OrderID,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	inv.ID = uint64(id)
	inv.Status = model.InvoiceConfirmed
	if err := upsertConfirmedRSVPTx(ctx, tx, inv.UserID, inv.EventID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ByOrderID returns the invoice with the given correlation id, or
// ErrInvoiceNotFound.
func (r *InvoiceRepo) ByOrderID(ctx context.Context, orderID string) (*model.Invoice, error) {
	const q = `SELECT ` + invoiceColumns + ` FROM invoices WHERE order_id = ?`
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, q, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

// ByTransactionCode returns the invoice carrying the given payment
// proof value.  Webhook deliveries are keyed this way because the
// provider never sees our order ids.
func (r *InvoiceRepo) ByTransactionCode(ctx context.Context, code string) (*model.Invoice, error) {
	const q = `SELECT ` + invoiceColumns + ` FROM invoices WHERE transaction_code = ?`
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, q, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

// PendingByUserEvent returns the most recent PENDING invoice for the
// pair, or ErrInvoiceNotFound.
func (r *InvoiceRepo) PendingByUserEvent(ctx context.Context, userID string, eventID uint64) (*model.Invoice, error) {
	const q = `SELECT ` + invoiceColumns + ` FROM invoices
	           WHERE user_id = ? AND event_id = ? AND status = 'PENDING'
	           ORDER BY created_at DESC LIMIT 1`
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, q, userID, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

// LatestByUserEvent returns the most recent invoice of any status for
// the pair, or ErrInvoiceNotFound.  The status-check endpoint reads
// through this.
func (r *InvoiceRepo) LatestByUserEvent(ctx context.Context, userID string, eventID uint64) (*model.Invoice, error) {
	const q = `SELECT ` + invoiceColumns + ` FROM invoices
	           WHERE user_id = ? AND event_id = ?
	           ORDER BY created_at DESC LIMIT 1`
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, q, userID, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

// SaveProof persists the supplied payment proof onto the invoice.
// This happens before verification so that a crash mid-confirmation
// still leaves the proof recorded for retry.
func (r *InvoiceRepo) SaveProof(ctx context.Context, id uint64, proof model.PaymentProof) error {
	const q = `UPDATE invoices SET proof_kind = ?, transaction_code = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, string(proof.Kind), proof.Value, id)
	return err
}

// MarkFailed transitions a PENDING invoice to FAILED.  The status
// guard in the WHERE clause makes the call a no-op on invoices that
// already reached a terminal state, so racing writers cannot undo a
// confirmation.
func (r *InvoiceRepo) MarkFailed(ctx context.Context, id uint64) error {
	const q = `UPDATE invoices SET status = 'FAILED' WHERE id = ? AND status = 'PENDING'`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// ConfirmWithRSVP atomically sets the invoice receipt and CONFIRMED
// status and upserts the reservation to CONFIRMED.  The status guard
// keeps the write idempotent: a second confirmation finds zero
// affected invoice rows and the upsert reaffirms the existing
// CONFIRMED reservation.
func (r *InvoiceRepo) ConfirmWithRSVP(ctx context.Context, inv *model.Invoice, receipt string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const q = `UPDATE invoices SET status = 'CONFIRMED', receipt_number = ?
	           WHERE id = ? AND status IN ('PENDING', 'CONFIRMED')`
	if _, err := tx.ExecContext(ctx, q, receipt, inv.ID); err != nil {
		return err
	}
	if err := upsertConfirmedRSVPTx(ctx, tx, inv.UserID, inv.EventID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	inv.Status = model.InvoiceConfirmed
	inv.ReceiptNumber = receipt
	return nil
}

// upsertConfirmedRSVPTx creates or promotes the reservation for the
// pair inside an existing transaction.  The unique index on
// (user_id, event_id) turns concurrent confirmations into a single
// row with the same terminal state.
func upsertConfirmedRSVPTx(ctx context.Context, tx *sql.Tx, userID string, eventID uint64) error {
	const q = `INSERT INTO rsvps (user_id, event_id, status) VALUES (?, ?, 'CONFIRMED')
	           ON DUPLICATE KEY UPDATE status = 'CONFIRMED', updated_at = UTC_TIMESTAMP()`
	_, err := tx.ExecContext(ctx, q, userID, eventID)
	return err
}

// Delete removes an invoice outright.  Reaping deletes rather than
// failing the invoice so the client can start a clean attempt.
func (r *InvoiceRepo) Delete(ctx context.Context, id uint64) error {
	const q = `DELETE FROM invoices WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// DeleteWithPendingRSVP removes the invoice and any still-PENDING
// reservation for its (user, event) pair in one transaction.  A
// reservation already CONFIRMED (possibly through a different
// payment) is left untouched.
func (r *InvoiceRepo) DeleteWithPendingRSVP(ctx context.Context, inv *model.Invoice) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, inv.ID); err != nil {
		return err
	}
	const delRSVP = `DELETE FROM rsvps WHERE user_id = ? AND event_id = ? AND status = 'PENDING'`
	if _, err := tx.ExecContext(ctx, delRSVP, inv.UserID, inv.EventID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// MarkTicketEmailSent flags that the ticket notification for this
// invoice was handed to the queue.  Best-effort bookkeeping.
func (r *InvoiceRepo) MarkTicketEmailSent(ctx context.Context, id uint64) error {
	const q = `UPDATE invoices SET ticket_email_sent = 1 WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// ReapAbandoned deletes every PENDING invoice that recorded a payment
// proof, never received a receipt, and is older than maxAge.  Returns
// the number of invoices removed.  Mirrors the opportunistic reap on
// status reads, as a sweep for clients that never came back.
func (r *InvoiceRepo) ReapAbandoned(ctx context.Context, maxAge time.Duration) (int64, error) {
	const q = `DELETE FROM invoices
	           WHERE status = 'PENDING'
	             AND transaction_code IS NOT NULL AND transaction_code <> ''
	             AND (receipt_number IS NULL OR receipt_number = '')
	             AND created_at <= UTC_TIMESTAMP() - INTERVAL ? SECOND`
	res, err := r.db.ExecContext(ctx, q, int64(maxAge.Seconds()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// nullable maps an empty string to NULL for optional columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
