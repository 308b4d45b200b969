package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kwachira/tikiti/internal/model"
)

// RSVPRepo provides read access to reservations.  Writes that must be
// atomic with invoice transitions live in InvoiceRepo; everything
// here is display-oriented.
type RSVPRepo struct {
	db *sql.DB
}

// NewRSVPRepo returns a new RSVPRepo bound to the given database.
func NewRSVPRepo(db *sql.DB) *RSVPRepo { return &RSVPRepo{db: db} }

// ByUserEvent returns the reservation for the pair, or ErrRSVPNotFound.
func (r *RSVPRepo) ByUserEvent(ctx context.Context, userID string, eventID uint64) (*model.RSVP, error) {
	const q = `SELECT id, user_id, event_id, status, created_at, updated_at
	           FROM rsvps WHERE user_id = ? AND event_id = ?`
	var rec model.RSVP
	err := r.db.QueryRowContext(ctx, q, userID, eventID).Scan(
		&rec.ID, &rec.UserID, &rec.EventID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRSVPNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByEventForOrganizer returns all reservations for an event when
// accessed by its organizer.  It verifies ownership first and returns
// ErrForbidden when the caller does not organize the event, or
// ErrEventNotFound when the event does not exist.  Reservations are
// ordered newest first.
func (r *RSVPRepo) ListByEventForOrganizer(ctx context.Context, eventID uint64, organizerID string) ([]model.RSVP, error) {
	const checkQ = `SELECT organizer_id FROM events WHERE id = ?`
	var actual string
	err := r.db.QueryRowContext(ctx, checkQ, eventID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	if actual != organizerID {
		return nil, ErrForbidden
	}
	const q = `SELECT id, user_id, event_id, status, created_at, updated_at
	           FROM rsvps WHERE event_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.RSVP, 0)
	for rows.Next() {
		var rec model.RSVP
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.EventID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
