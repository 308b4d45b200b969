package model

import "time"

// RSVPStatus enumerates reservation states.  Unlike invoices, an RSVP
// has no FAILED state: a failed payment simply never promotes the
// reservation, and webhook-reported failures delete a PENDING row.
type RSVPStatus string

const (
	RSVPPending   RSVPStatus = "PENDING"
	RSVPConfirmed RSVPStatus = "CONFIRMED"
)

// RSVP is a user's claimed spot at an event.  The (user_id, event_id)
// pair is unique at the database level, which is what makes
// confirmation an idempotent upsert rather than an insert.
//
// Fields:
//
//	ID        – primary key identifier.
//	UserID    – identity-provider subject of the attendee.
//	EventID   – event being attended.
//	Status    – PENDING or CONFIRMED.
//	CreatedAt – creation timestamp (UTC).
//	UpdatedAt – last update timestamp (UTC).
type RSVP struct {
	ID        uint64     // rsvps.id
	UserID    string     // rsvps.user_id
	EventID   uint64     // rsvps.event_id
	Status    RSVPStatus // rsvps.status
	CreatedAt time.Time  // rsvps.created_at
	UpdatedAt time.Time  // rsvps.updated_at
}
