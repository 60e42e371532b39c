package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/baikal-manager/server/internal/models"
	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

// CredentialSource yields a user's decrypted remote credential block.
type CredentialSource interface {
	Credentials(username string) (*models.RemoteCredentials, error)
}

// HandleProvider yields a verified connection handle for a credential set.
type HandleProvider interface {
	HandleFor(ctx context.Context, creds *models.RemoteCredentials) (*Handle, error)
}

// Calendars reads and writes calendar events through a verified connection.
type Calendars struct {
	users    CredentialSource
	verifier HandleProvider
}

// NewCalendars constructs the calendar service.
func NewCalendars(users CredentialSource, verifier HandleProvider) *Calendars {
	return &Calendars{users: users, verifier: verifier}
}

func (s *Calendars) handle(ctx context.Context, username string) (*Handle, error) {
	creds, err := s.users.Credentials(username)
	if err != nil {
		return nil, err
	}
	return s.verifier.HandleFor(ctx, creds)
}

// List returns the calendar collections available to the user's principal.
func (s *Calendars) List(ctx context.Context, username string) ([]models.Calendar, error) {
	h, err := s.handle(ctx, username)
	if err != nil {
		return nil, err
	}
	calendars, err := h.CalDAV.FindCalendars(ctx, h.CalendarHomeSet)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	out := make([]models.Calendar, 0, len(calendars))
	for _, c := range calendars {
		name := c.Name
		if name == "" {
			name = "Calendar"
		}
		out = append(out, models.Calendar{Path: c.Path, Name: name})
	}
	return out, nil
}

// Events returns the events on the configured calendar between start and end.
func (s *Calendars) Events(ctx context.Context, username string, start, end time.Time) ([]models.Event, error) {
	h, err := s.handle(ctx, username)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start,
				End:   end,
			}},
		},
	}
	objects, err := h.CalDAV.QueryCalendar(ctx, h.CalendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	var events []models.Event
	for _, obj := range objects {
		events = append(events, eventsFromObject(obj)...)
	}
	return events, nil
}

// CreateEvent writes a new event to the configured calendar and returns it
// with its generated ID.
func (s *Calendars) CreateEvent(ctx context.Context, username string, ev models.Event) (*models.Event, error) {
	if ev.Title == "" {
		return nil, fmt.Errorf("event title is required")
	}
	if ev.Start.IsZero() {
		return nil, fmt.Errorf("event start is required")
	}
	if ev.End.IsZero() || ev.End.Before(ev.Start) {
		ev.End = ev.Start.Add(time.Hour)
	}

	h, err := s.handle(ctx, username)
	if err != nil {
		return nil, err
	}

	uid := uuid.NewString()
	cal := buildEventCalendar(uid, ev)
	obj, err := h.CalDAV.PutCalendarObject(ctx, path.Join(h.CalendarPath, uid+".ics"), cal)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	ev.ID = obj.Path
	return &ev, nil
}

// UpdateEvent replaces the event object at id with ev's fields. The id is the
// object path reported when the event was listed or created.
func (s *Calendars) UpdateEvent(ctx context.Context, username, id string, ev models.Event) (*models.Event, error) {
	if ev.Title == "" {
		return nil, fmt.Errorf("event title is required")
	}
	if ev.Start.IsZero() {
		return nil, fmt.Errorf("event start is required")
	}
	if ev.End.IsZero() || ev.End.Before(ev.Start) {
		ev.End = ev.Start.Add(time.Hour)
	}

	h, err := s.handle(ctx, username)
	if err != nil {
		return nil, err
	}
	uid, err := collectionMember(h.CalendarPath, id, ".ics")
	if err != nil {
		return nil, err
	}

	obj, err := h.CalDAV.PutCalendarObject(ctx, id, buildEventCalendar(uid, ev))
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	ev.ID = obj.Path
	return &ev, nil
}

// DeleteEvent removes the event object at id from the configured calendar.
func (s *Calendars) DeleteEvent(ctx context.Context, username, id string) error {
	h, err := s.handle(ctx, username)
	if err != nil {
		return err
	}
	if _, err := collectionMember(h.CalendarPath, id, ".ics"); err != nil {
		return err
	}
	if err := h.CalDAV.RemoveAll(ctx, id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// collectionMember checks that id addresses an object directly inside the
// collection the credential block was verified against, so a request can
// never write or delete outside the configured path. It returns the object's
// UID, the basename without ext.
func collectionMember(collection, id, ext string) (string, error) {
	norm := NormalizePath(id)
	if !strings.HasPrefix(norm, NormalizePath(collection)+"/") {
		return "", fmt.Errorf("object %q is outside the configured collection", id)
	}
	uid := strings.TrimSuffix(path.Base(norm), ext)
	if uid == "" {
		return "", fmt.Errorf("object %q has no object name", id)
	}
	return uid, nil
}

// buildEventCalendar wraps one VEVENT into a standalone VCALENDAR document.
func buildEventCalendar(uid string, ev models.Event) *ical.Calendar {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetText(ical.PropSummary, ev.Title)
	if ev.Description != "" {
		event.Props.SetText(ical.PropDescription, ev.Description)
	}
	event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, "-//baikal-manager//server//EN")
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, event.Component)
	return cal
}

// eventsFromObject converts every VEVENT in a fetched calendar object.
func eventsFromObject(obj caldav.CalendarObject) []models.Event {
	if obj.Data == nil {
		return nil
	}
	var out []models.Event
	for _, ev := range obj.Data.Events() {
		if m, ok := eventToModel(obj.Path, ev); ok {
			out = append(out, m)
		}
	}
	return out
}

func eventToModel(objPath string, ev ical.Event) (models.Event, bool) {
	start, err := ev.DateTimeStart(time.UTC)
	if err != nil || start.IsZero() {
		return models.Event{}, false
	}
	end, err := ev.DateTimeEnd(time.UTC)
	if err != nil || end.IsZero() {
		end = start
	}

	title, _ := ev.Props.Text(ical.PropSummary)
	description, _ := ev.Props.Text(ical.PropDescription)

	id := objPath
	if uid, _ := ev.Props.Text(ical.PropUID); uid != "" && id == "" {
		id = uid
	}
	return models.Event{
		ID:          id,
		Title:       title,
		Description: description,
		Start:       start.UTC(),
		End:         end.UTC(),
	}, true
}
