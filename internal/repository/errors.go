// Package repository defines error types that are reused across
// multiple repositories. These sentinel values allow higher layers
// such as handlers and the confirmation engine to distinguish between
// failure scenarios without string matching. ErrForbidden indicates
// that the current user is not authorized to act on a resource owned
// by someone else; the NotFound sentinels stand in for sql.ErrNoRows
// at the package boundary.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own, or when a payment proof does not
// correlate to the caller's invoice. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrEventNotFound is returned when the referenced event does not exist.
var ErrEventNotFound = errors.New("event not found")

// ErrInvoiceNotFound is returned when no invoice matches the lookup key.
var ErrInvoiceNotFound = errors.New("invoice not found")

// ErrRSVPNotFound is returned when no reservation matches the lookup key.
var ErrRSVPNotFound = errors.New("rsvp not found")
