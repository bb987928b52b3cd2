package mcp

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"signly/internal/calendar"
)

// PingOutput is the output schema for the ping tool.
type PingOutput struct {
	Message string `json:"message"`
	Time    string `json:"time"`
}

// StatusOutput is the output schema for the calendar_status tool.
type StatusOutput struct {
	Connected   bool   `json:"connected" jsonschema:"whether a Google Calendar is connected"`
	Email       string `json:"email,omitempty" jsonschema:"Google account email"`
	CalendarID  string `json:"calendarId,omitempty" jsonschema:"default calendar used for event queries"`
	ConnectedAt string `json:"connectedAt,omitempty" jsonschema:"connection time (RFC 3339)"`
}

// CalendarItem is one calendar in the calendar_list output.
type CalendarItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrimary  bool   `json:"isPrimary"`
	AccessRole string `json:"accessRole"`
	TimeZone   string `json:"timeZone,omitempty"`
}

// ListCalendarsOutput is the output schema for the calendar_list tool.
type ListCalendarsOutput struct {
	Calendars []CalendarItem `json:"calendars"`
	Count     int            `json:"count"`
}

// ListEventsInput is the input schema for the calendar_events tool.
type ListEventsInput struct {
	StartDate       string `json:"startDate,omitempty" jsonschema:"start of the window (RFC 3339 or YYYY-MM-DD); defaults to now"`
	EndDate         string `json:"endDate,omitempty" jsonschema:"end of the window (RFC 3339 or YYYY-MM-DD)"`
	CalendarID      string `json:"calendarId,omitempty" jsonschema:"calendar to read; defaults to the connected calendar"`
	MaxResults      int    `json:"maxResults,omitempty" jsonschema:"maximum number of events between 1 and 2500 (default 50)"`
	MaxEventsPerDay int    `json:"maxEventsPerDay,omitempty" jsonschema:"keep at most this many events per day in the grouping"`
}

// EventItem is one event in the calendar_events output.
type EventItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Start    string `json:"start"`
	End      string `json:"end"`
	AllDay   bool   `json:"allDay"`
	Location string `json:"location,omitempty"`
	Status   string `json:"status"`
	Link     string `json:"link,omitempty"`
}

// DayItem groups the events that start on one UTC day.
type DayItem struct {
	Date   string      `json:"date" jsonschema:"day in YYYY-MM-DD (UTC)"`
	Events []EventItem `json:"events"`
}

// ListEventsOutput is the output schema for the calendar_events tool.
type ListEventsOutput struct {
	CalendarID  string      `json:"calendarId"`
	Events      []EventItem `json:"events"`
	Days        []DayItem   `json:"days" jsonschema:"events grouped by day in date order"`
	TotalEvents int         `json:"totalEvents"`
}

// tools implements the MCP tools for a single user.
type tools struct {
	server *Server
	userID string
}

func (t *tools) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ping",
		Description: "Test connectivity with the MCP server",
	}, t.handlePing)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "calendar_status",
		Description: "Show whether a Google Calendar is connected and which calendar is the default",
	}, t.handleStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "calendar_list",
		Description: "List the Google calendars the user can read",
	}, t.handleListCalendars)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "calendar_events",
		Description: "List events of a Google calendar in a time window, ordered by start time",
	}, t.handleListEvents)
}

func (t *tools) handlePing(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (
	*mcp.CallToolResult,
	PingOutput,
	error,
) {
	return nil, PingOutput{
		Message: "pong",
		Time:    t.server.now().Format(time.RFC3339),
	}, nil
}

// handleStatus implements the calendar_status MCP tool.
func (t *tools) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	status, err := t.server.connections.Status(ctx, t.userID)
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("failed to get calendar status: %w", err)
	}

	out := StatusOutput{Connected: status.Connected}
	if status.Email != nil {
		out.Email = *status.Email
	}
	if status.CalendarID != nil {
		out.CalendarID = *status.CalendarID
	}
	if status.ConnectedAt != nil {
		out.ConnectedAt = status.ConnectedAt.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}

// handleListCalendars implements the calendar_list MCP tool.
func (t *tools) handleListCalendars(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (
	*mcp.CallToolResult,
	ListCalendarsOutput,
	error,
) {
	calendars, err := t.server.calendars.ListCalendars(ctx, t.userID)
	if err != nil {
		return nil, ListCalendarsOutput{}, fmt.Errorf("failed to list calendars: %w", err)
	}

	out := ListCalendarsOutput{
		Calendars: make([]CalendarItem, len(calendars)),
		Count:     len(calendars),
	}
	for i, c := range calendars {
		out.Calendars[i] = CalendarItem{
			ID:         c.ID,
			Name:       c.Name,
			IsPrimary:  c.IsPrimary,
			AccessRole: c.AccessRole,
			TimeZone:   c.TimeZone,
		}
	}
	return nil, out, nil
}

// handleListEvents implements the calendar_events MCP tool.
func (t *tools) handleListEvents(ctx context.Context, _ *mcp.CallToolRequest, input ListEventsInput) (
	*mcp.CallToolResult,
	ListEventsOutput,
	error,
) {
	start, err := calendar.ParseDate("startDate", input.StartDate)
	if err != nil {
		return nil, ListEventsOutput{}, err
	}
	end, err := calendar.ParseDate("endDate", input.EndDate)
	if err != nil {
		return nil, ListEventsOutput{}, err
	}
	if input.MaxEventsPerDay < 0 {
		return nil, ListEventsOutput{}, fmt.Errorf("%w: maxEventsPerDay must be a non-negative integer", calendar.ErrInvalidParameter)
	}

	maxResults := input.MaxResults
	if maxResults == 0 {
		maxResults = calendar.DefaultMaxResults
	}

	list, err := t.server.calendars.ListEvents(ctx, t.userID, calendar.EventQuery{
		CalendarID: input.CalendarID,
		TimeMin:    start,
		TimeMax:    end,
		MaxResults: maxResults,
	})
	if err != nil {
		return nil, ListEventsOutput{}, fmt.Errorf("failed to list events: %w", err)
	}

	out := ListEventsOutput{
		CalendarID:  list.CalendarID,
		Events:      make([]EventItem, len(list.Events)),
		Days:        []DayItem{},
		TotalEvents: len(list.Events),
	}
	for i, e := range list.Events {
		out.Events[i] = eventItem(e)
	}

	grouped := calendar.GroupByDate(list.Events, input.MaxEventsPerDay)
	dates := make([]string, 0, len(grouped))
	for date := range grouped {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates {
		day := DayItem{Date: date, Events: make([]EventItem, len(grouped[date]))}
		for i, e := range grouped[date] {
			day.Events[i] = eventItem(e)
		}
		out.Days = append(out.Days, day)
	}

	return nil, out, nil
}

func eventItem(e calendar.Event) EventItem {
	return EventItem{
		ID:       e.ID,
		Title:    e.Title,
		Start:    e.Start,
		End:      e.End,
		AllDay:   e.AllDay,
		Location: e.Location,
		Status:   e.Status,
		Link:     e.Link,
	}
}
