package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/kwachira/tikiti/internal/repository"
)

// OrganizerHandler serves organizer-facing reads.  Access control is
// per-resource ownership: the caller must organize the event they ask
// about, there are no global roles.
type OrganizerHandler struct {
	RSVPRepo *repository.RSVPRepo
}

// NewOrganizerHandler constructs an OrganizerHandler.
func NewOrganizerHandler(rsvpRepo *repository.RSVPRepo) *OrganizerHandler {
	if rsvpRepo == nil {
		panic("nil repository passed to NewOrganizerHandler")
	}
	return &OrganizerHandler{RSVPRepo: rsvpRepo}
}

// Attendees handles GET /v1/events/:id/attendees.  Returns every
// reservation for the event, newest first, to its organizer only.
func (h *OrganizerHandler) Attendees(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID, err := parseEventID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	rsvps, err := h.RSVPRepo.ListByEventForOrganizer(c.Request().Context(), eventID, userID)
	switch {
	case errors.Is(err, repository.ErrEventNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your event"})
	case err != nil:
		c.Logger().Errorf("list attendees: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list attendees"})
	}

	out := make([]echo.Map, 0, len(rsvps))
	for _, r := range rsvps {
		out = append(out, echo.Map{
			"user_id":    r.UserID,
			"status":     r.Status,
			"created_at": r.CreatedAt.UTC().Format(time.RFC3339),
			"updated_at": r.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"event_id":  eventID,
		"attendees": out,
	})
}
