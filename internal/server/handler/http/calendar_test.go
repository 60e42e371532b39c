package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/baikal-manager/server/internal/models"
	"github.com/baikal-manager/server/internal/service"
	"github.com/go-chi/chi/v5"
)

// fakeCalendars implements CalendarService for testing.
type fakeCalendars struct {
	calendars []models.Calendar
	events    []models.Event
	created   *models.Event
	updated   *models.Event
	err       error

	gotStart time.Time
	gotEnd   time.Time
	gotID    string
	deleted  []string
}

func (f *fakeCalendars) List(ctx context.Context, username string) ([]models.Calendar, error) {
	return f.calendars, f.err
}

func (f *fakeCalendars) Events(ctx context.Context, username string, start, end time.Time) ([]models.Event, error) {
	f.gotStart, f.gotEnd = start, end
	return f.events, f.err
}

func (f *fakeCalendars) CreateEvent(ctx context.Context, username string, ev models.Event) (*models.Event, error) {
	return f.created, f.err
}

func (f *fakeCalendars) UpdateEvent(ctx context.Context, username, id string, ev models.Event) (*models.Event, error) {
	f.gotID = id
	return f.updated, f.err
}

func (f *fakeCalendars) DeleteEvent(ctx context.Context, username, id string) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

// wildcardRequest builds an authenticated request carrying a chi wildcard
// route parameter, the way the router delivers object paths to handlers.
func wildcardRequest(method, target, wildcard, body string) *http.Request {
	req := authedRequest(method, target, body)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("*", wildcard)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCalendarHandler_ListEvents(t *testing.T) {
	tests := []struct {
		name         string
		target       string
		service      *fakeCalendars
		expectedCode int
	}{
		{
			name:         "missing range",
			target:       "/api/calendar/events",
			service:      &fakeCalendars{},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "end before start",
			target:       "/api/calendar/events?start=2025-03-10&end=2025-03-01",
			service:      &fakeCalendars{},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "not configured",
			target:       "/api/calendar/events?start=2025-03-01&end=2025-04-01",
			service:      &fakeCalendars{err: service.ErrNotConnected},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:   "remote failure",
			target: "/api/calendar/events?start=2025-03-01&end=2025-04-01",
			service: &fakeCalendars{err: &service.VerifyError{
				Kind: service.KindTransport,
				Host: "dav.example.com",
			}},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "rfc3339 range",
			target:       "/api/calendar/events?start=2025-03-01T00:00:00Z&end=2025-04-01T00:00:00Z",
			service:      &fakeCalendars{},
			expectedCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &CalendarHandler{Calendars: tt.service}
			rec := httptest.NewRecorder()
			h.ListEvents(rec, authedRequest("GET", tt.target, ""))

			if rec.Code != tt.expectedCode {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCalendarHandler_ListEvents_EmptyResultIsArray(t *testing.T) {
	h := &CalendarHandler{Calendars: &fakeCalendars{}}
	rec := httptest.NewRecorder()
	h.ListEvents(rec, authedRequest("GET", "/api/calendar/events?start=2025-03-01&end=2025-04-01", ""))

	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("body = %q; want an empty JSON array", got)
	}
}

func TestCalendarHandler_ListEvents_PassesParsedRange(t *testing.T) {
	svc := &fakeCalendars{}
	h := &CalendarHandler{Calendars: svc}
	rec := httptest.NewRecorder()
	h.ListEvents(rec, authedRequest("GET", "/api/calendar/events?start=2025-03-01&end=2025-04-01", ""))

	wantStart := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	if !svc.gotStart.Equal(wantStart) || !svc.gotEnd.Equal(wantEnd) {
		t.Errorf("range = %v..%v; want %v..%v", svc.gotStart, svc.gotEnd, wantStart, wantEnd)
	}
}

func TestCalendarHandler_CreateEvent(t *testing.T) {
	created := &models.Event{
		ID:    "/calendars/alice/default/uid-1.ics",
		Title: "Dentist",
		Start: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	h := &CalendarHandler{Calendars: &fakeCalendars{created: created}}

	body := `{"title":"Dentist","start":"2025-03-14T09:00:00Z","end":"2025-03-14T10:00:00Z"}`
	rec := httptest.NewRecorder()
	h.CreateEvent(rec, authedRequest("POST", "/api/calendar/events", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got models.Event
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q; want %q", got.ID, created.ID)
	}
}

func TestCalendarHandler_UpdateEvent(t *testing.T) {
	updated := &models.Event{
		ID:    "/calendars/alice/default/uid-1.ics",
		Title: "Dentist (moved)",
		Start: time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC),
	}
	svc := &fakeCalendars{updated: updated}
	h := &CalendarHandler{Calendars: svc}

	body := `{"title":"Dentist (moved)","start":"2025-03-15T09:00:00Z"}`
	rec := httptest.NewRecorder()
	h.UpdateEvent(rec, wildcardRequest("PUT", "/api/calendar/events/calendars/alice/default/uid-1.ics",
		"calendars/alice/default/uid-1.ics", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.gotID != "/calendars/alice/default/uid-1.ics" {
		t.Errorf("service received id %q; want the object path from the route", svc.gotID)
	}
}

func TestCalendarHandler_DeleteEvent(t *testing.T) {
	svc := &fakeCalendars{}
	h := &CalendarHandler{Calendars: svc}

	rec := httptest.NewRecorder()
	h.DeleteEvent(rec, wildcardRequest("DELETE", "/api/calendar/events/calendars/alice/default/uid-1.ics",
		"calendars/alice/default/uid-1.ics", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.deleted) != 1 || svc.deleted[0] != "/calendars/alice/default/uid-1.ics" {
		t.Errorf("deleted = %v; want the object path from the route", svc.deleted)
	}
}

func TestCalendarHandler_DeleteEvent_MissingID(t *testing.T) {
	h := &CalendarHandler{Calendars: &fakeCalendars{}}

	rec := httptest.NewRecorder()
	h.DeleteEvent(rec, wildcardRequest("DELETE", "/api/calendar/events/", "", ""))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestCalendarHandler_ListCalendars(t *testing.T) {
	h := &CalendarHandler{Calendars: &fakeCalendars{calendars: []models.Calendar{
		{Path: "/calendars/alice/default/", Name: "Default"},
	}}}
	rec := httptest.NewRecorder()
	h.ListCalendars(rec, authedRequest("GET", "/api/calendar/calendars", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("Default")) {
		t.Errorf("body = %q; want calendar listing", rec.Body.String())
	}
}
