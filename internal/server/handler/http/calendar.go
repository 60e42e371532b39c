package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/baikal-manager/server/internal/middleware"
	"github.com/baikal-manager/server/internal/models"
	"github.com/baikal-manager/server/internal/service"
	"github.com/go-chi/chi/v5"
)

// CalendarService defines the calendar operations required by the HTTP
// handlers.
type CalendarService interface {
	List(ctx context.Context, username string) ([]models.Calendar, error)
	Events(ctx context.Context, username string, start, end time.Time) ([]models.Event, error)
	CreateEvent(ctx context.Context, username string, ev models.Event) (*models.Event, error)
	UpdateEvent(ctx context.Context, username, id string, ev models.Event) (*models.Event, error)
	DeleteEvent(ctx context.Context, username, id string) error
}

// CalendarHandler serves calendar collections and events from the remote
// server.
type CalendarHandler struct {
	Calendars CalendarService
}

// ListCalendars returns the calendar collections available to the user.
func (h *CalendarHandler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	calendars, err := h.Calendars.List(r.Context(), username)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calendars)
}

// ListEvents returns the events between the start and end query parameters.
// Both are required, as RFC 3339 timestamps or plain dates.
func (h *CalendarHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())

	start, err := parseTimeParam(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing start parameter")
		return
	}
	end, err := parseTimeParam(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing end parameter")
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	events, err := h.Calendars.Events(r.Context(), username, start, end)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// CreateEvent writes a new event to the configured calendar.
func (h *CalendarHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())

	var ev models.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	created, err := h.Calendars.CreateEvent(r.Context(), username, ev)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateEvent replaces the event addressed by the path suffix, which is the
// object path returned from listing or creating it.
func (h *CalendarHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	id, ok := objectID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}

	var ev models.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.Calendars.UpdateEvent(r.Context(), username, id, ev)
	if err != nil {
		writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteEvent removes the event addressed by the path suffix.
func (h *CalendarHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	username := middleware.GetUserFromContext(r.Context())
	id, ok := objectID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}

	if err := h.Calendars.DeleteEvent(r.Context(), username, id); err != nil {
		writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "event deleted"})
}

// objectID extracts the remote object path from the route's trailing
// wildcard.
func objectID(r *http.Request) (string, bool) {
	suffix := chi.URLParam(r, "*")
	if suffix == "" {
		return "", false
	}
	return "/" + suffix, true
}

// parseTimeParam accepts RFC 3339 timestamps and plain dates.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty time parameter")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// writeRemoteError maps failures on the remote access path to HTTP statuses.
// An unconfigured or unverifiable connection is the caller's problem (400);
// everything else on an established connection is a gateway failure (502).
func writeRemoteError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if errors.Is(err, service.ErrNotConnected) {
		writeError(w, http.StatusBadRequest, "remote server is not configured")
		return
	}
	var ve *service.VerifyError
	if errors.As(err, &ve) {
		writeErrorDetails(w, http.StatusBadRequest, "connection verification failed", ve.Error())
		return
	}
	writeError(w, http.StatusBadGateway, "remote server request failed")
}
