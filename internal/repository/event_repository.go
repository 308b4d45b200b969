package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kwachira/tikiti/internal/model"
)

// EventRepo provides read access to events.  Event content management
// (creation, editing, media) is handled by a different service; the
// reconciliation core only needs prices, capacities and organizer
// identities.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions
// spanning multiple repositories.
func (r *EventRepo) DB() *sql.DB { return r.db }

// ByID loads a single event.  ErrEventNotFound is returned when no
// row exists.
func (r *EventRepo) ByID(ctx context.Context, id uint64) (*model.Event, error) {
	const q = `SELECT id, title, price_usd, currency, capacity, organizer_id, organizer_wallet, chain, starts_at
	           FROM events WHERE id = ?`
	var ev model.Event
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&ev.ID, &ev.Title, &ev.PriceUSD, &ev.Currency, &ev.Capacity,
		&ev.OrganizerID, &ev.OrganizerWallet, &ev.Chain, &ev.StartsAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ConfirmedCount returns the number of CONFIRMED reservations for an
// event.  Used for the capacity check at reservation-attempt time
// (read-then-decide; a lost race is re-validated on retry).
func (r *EventRepo) ConfirmedCount(ctx context.Context, eventID uint64) (uint32, error) {
	const q = `SELECT COUNT(*) FROM rsvps WHERE event_id = ? AND status = 'CONFIRMED'`
	var n uint32
	if err := r.db.QueryRowContext(ctx, q, eventID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
