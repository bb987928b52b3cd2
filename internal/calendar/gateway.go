// Package calendar reads a connected user's Google calendars and events.
//
// Every read loads the user's credential, makes sure the access token is
// fresh (RefreshGate), then calls Google Calendar v3 and maps the response
// onto Event and Calendar values.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"signly/internal/googleauth"
	"signly/internal/metrics"
	"signly/internal/store"
)

const (
	// PrimaryCalendarID is Google's alias for the account's main calendar.
	PrimaryCalendarID = "primary"
	// DefaultMaxResults is used by callers that do not pass a limit.
	DefaultMaxResults = 50
	// MaxResultsLimit is the largest page Google accepts for events.list.
	MaxResultsLimit = 2500
)

// UserReader loads users.
type UserReader interface {
	Get(ctx context.Context, id string) (*store.User, error)
}

// EventQuery selects the events to list. Zero values mean "use the default".
type EventQuery struct {
	CalendarID string
	TimeMin    time.Time
	TimeMax    time.Time
	MaxResults int
}

// EventList is the result of ListEvents.
type EventList struct {
	CalendarID string
	Events     []Event
}

// Resolution is the outcome of ResolvePrimaryCalendarID.
type Resolution struct {
	CalendarID string
	// Degraded is set when the calendar list could not be used and the
	// "primary" alias was returned instead.
	Degraded bool
	Reason   string
}

// Gateway is the read-only Google Calendar client for connected users.
type Gateway struct {
	users UserReader
	gate  *RefreshGate
	api   API
	now   func() time.Time
}

// NewGateway creates a Gateway.
func NewGateway(users UserReader, gate *RefreshGate, api API) *Gateway {
	return &Gateway{
		users: users,
		gate:  gate,
		api:   api,
		now:   time.Now,
	}
}

// ListEvents returns the user's events ordered by start time.
func (g *Gateway) ListEvents(ctx context.Context, userID string, q EventQuery) (*EventList, error) {
	if q.MaxResults < 1 || q.MaxResults > MaxResultsLimit {
		return nil, fmt.Errorf("%w: maxResults must be between 1 and %d", ErrInvalidParameter, MaxResultsLimit)
	}

	user, accessToken, err := g.authorize(ctx, userID)
	if err != nil {
		return nil, err
	}

	calendarID := q.CalendarID
	if calendarID == "" {
		calendarID = user.Calendar.CalendarID
	}
	if calendarID == "" {
		calendarID = PrimaryCalendarID
	}

	timeMin := q.TimeMin
	if timeMin.IsZero() {
		timeMin = g.now()
	}
	if !q.TimeMax.IsZero() && q.TimeMax.Before(timeMin) {
		return nil, fmt.Errorf("%w: endDate is before startDate", ErrInvalidParameter)
	}

	items, err := g.api.ListEvents(ctx, accessToken, EventsRequest{
		CalendarID: calendarID,
		TimeMin:    timeMin,
		TimeMax:    q.TimeMax,
		MaxResults: int64(q.MaxResults),
	})
	metrics.RecordCalendarRequest("events.list", err)
	if err != nil {
		log.Printf("Failed to list events for user %s calendar %s: %v", userID, calendarID, err)
		return nil, classifyError(err)
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, eventFromAPI(item))
	}

	return &EventList{CalendarID: calendarID, Events: events}, nil
}

// ListCalendars returns every calendar the user can read.
func (g *Gateway) ListCalendars(ctx context.Context, userID string) ([]Calendar, error) {
	_, accessToken, err := g.authorize(ctx, userID)
	if err != nil {
		return nil, err
	}

	items, err := g.api.ListCalendars(ctx, accessToken)
	metrics.RecordCalendarRequest("calendarList.list", err)
	if err != nil {
		log.Printf("Failed to list calendars for user %s: %v", userID, err)
		return nil, classifyError(err)
	}

	calendars := make([]Calendar, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		calendars = append(calendars, calendarFromAPI(item))
	}
	return calendars, nil
}

// ResolvePrimaryCalendarID picks the calendar flagged primary, else the first
// one, else the "primary" alias. It never fails.
func (g *Gateway) ResolvePrimaryCalendarID(ctx context.Context, userID string) Resolution {
	calendars, err := g.ListCalendars(ctx, userID)
	if err != nil {
		log.Printf("Failed to resolve primary calendar for user %s, using %q: %v", userID, PrimaryCalendarID, err)
		return Resolution{CalendarID: PrimaryCalendarID, Degraded: true, Reason: err.Error()}
	}

	for _, c := range calendars {
		if c.IsPrimary {
			return Resolution{CalendarID: c.ID}
		}
	}
	if len(calendars) > 0 {
		log.Printf("No calendar flagged primary for user %s, using first: %s", userID, calendars[0].ID)
		return Resolution{CalendarID: calendars[0].ID}
	}

	return Resolution{CalendarID: PrimaryCalendarID, Degraded: true, Reason: "calendar list is empty"}
}

// authorize loads the user and returns a valid access token.
func (g *Gateway) authorize(ctx context.Context, userID string) (*store.User, string, error) {
	user, err := g.users.Get(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	cred := &user.Calendar
	if !cred.Connected || cred.RefreshToken == "" {
		return nil, "", ErrNotConnected
	}

	accessToken, err := g.gate.EnsureValidAccessToken(ctx, userID, cred)
	if err != nil {
		if errors.Is(err, googleauth.ErrRefreshTokenInvalid) {
			return nil, "", fmt.Errorf("%w: %w", ErrAuth, err)
		}
		return nil, "", err
	}
	return user, accessToken, nil
}
