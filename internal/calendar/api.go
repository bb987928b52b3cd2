package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// EventsRequest is one events.list call.
type EventsRequest struct {
	CalendarID string
	TimeMin    time.Time
	TimeMax    time.Time // zero means unbounded
	MaxResults int64
}

// API is the part of the Google Calendar API used by the gateway.
type API interface {
	ListEvents(ctx context.Context, accessToken string, req EventsRequest) ([]*gcal.Event, error)
	ListCalendars(ctx context.Context, accessToken string) ([]*gcal.CalendarListEntry, error)
}

// GoogleAPI calls Google Calendar v3 with a per-request access token.
type GoogleAPI struct {
	options []option.ClientOption
}

// NewGoogleAPI creates the client. Extra options are appended to every
// service, which lets tests point it at a local server.
func NewGoogleAPI(opts ...option.ClientOption) *GoogleAPI {
	return &GoogleAPI{options: opts}
}

func (a *GoogleAPI) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	opts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}, a.options...)

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar client: %w", err)
	}
	return svc, nil
}

// ListEvents expands recurring events and orders them by start time.
func (a *GoogleAPI) ListEvents(ctx context.Context, accessToken string, req EventsRequest) ([]*gcal.Event, error) {
	svc, err := a.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	call := svc.Events.List(req.CalendarID).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(req.TimeMin.Format(time.RFC3339)).
		MaxResults(req.MaxResults).
		Context(ctx)
	if !req.TimeMax.IsZero() {
		call = call.TimeMax(req.TimeMax.Format(time.RFC3339))
	}

	res, err := call.Do()
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// ListCalendars returns every calendar the account can at least read.
func (a *GoogleAPI) ListCalendars(ctx context.Context, accessToken string) ([]*gcal.CalendarListEntry, error) {
	svc, err := a.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var items []*gcal.CalendarListEntry
	err = svc.CalendarList.List().
		MinAccessRole("reader").
		Context(ctx).
		Pages(ctx, func(page *gcal.CalendarList) error {
			items = append(items, page.Items...)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return items, nil
}
