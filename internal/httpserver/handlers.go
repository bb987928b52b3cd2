package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"signly/internal/calendar"
	"signly/internal/oauthflow"
)

// Handler serves the calendar connection and read endpoints.
type Handler struct {
	flow         *oauthflow.Controller
	calendars    *calendar.Gateway
	showInternal bool
}

// NewHandler creates a Handler. showInternal exposes internal error messages
// to clients and is meant for development only.
func NewHandler(flow *oauthflow.Controller, calendars *calendar.Gateway, showInternal bool) *Handler {
	return &Handler{flow: flow, calendars: calendars, showInternal: showInternal}
}

// Initiate returns the Google consent URL.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	authURL, err := h.flow.Initiate(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]string{"authUrl": authURL},
		"message": "authorization URL generated",
	})
}

// Callback completes the consent flow and redirects the browser to the
// frontend. It never answers with an error status.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := h.flow.HandleCallback(r.Context(), oauthflow.CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	})
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// Status reports the user's connection.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status, err := h.flow.Status(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    status,
	})
}

// Disconnect clears the user's connection.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.flow.Disconnect(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Google Calendar disconnected",
	})
}

// Calendars lists the calendars the user can read.
func (h *Handler) Calendars(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	calendars, err := h.calendars.ListCalendars(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if calendars == nil {
		calendars = []calendar.Calendar{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    calendars,
		"total":   len(calendars),
	})
}

type eventsResponse struct {
	Success       bool                        `json:"success"`
	Data          []calendar.Event            `json:"data"`
	GroupedByDate map[string][]calendar.Event `json:"groupedByDate"`
	TotalEvents   int                         `json:"totalEvents"`
	TotalDays     int                         `json:"totalDays"`
	CalendarID    string                      `json:"calendarId"`
}

// Events lists events in a time window, also grouped by UTC day.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	query, maxPerDay, err := parseEventsQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	list, err := h.calendars.ListEvents(r.Context(), id, query)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	events := list.Events
	if events == nil {
		events = []calendar.Event{}
	}
	grouped := calendar.GroupByDate(events, maxPerDay)

	writeJSON(w, http.StatusOK, eventsResponse{
		Success:       true,
		Data:          events,
		GroupedByDate: grouped,
		TotalEvents:   len(events),
		TotalDays:     len(grouped),
		CalendarID:    list.CalendarID,
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	handleError(w, r, err, h.showInternal)
}

// parseEventsQuery reads startDate, endDate, maxResults, calendarId and
// maxEventsPerDay. Missing values keep their defaults.
func parseEventsQuery(r *http.Request) (calendar.EventQuery, int, error) {
	q := r.URL.Query()
	query := calendar.EventQuery{
		CalendarID: strings.TrimSpace(q.Get("calendarId")),
		MaxResults: calendar.DefaultMaxResults,
	}

	var err error
	if query.TimeMin, err = calendar.ParseDate("startDate", q.Get("startDate")); err != nil {
		return query, 0, err
	}
	if query.TimeMax, err = calendar.ParseDate("endDate", q.Get("endDate")); err != nil {
		return query, 0, err
	}

	if v := q.Get("maxResults"); v != "" {
		if query.MaxResults, err = strconv.Atoi(v); err != nil {
			return query, 0, fmt.Errorf("%w: maxResults must be an integer", calendar.ErrInvalidParameter)
		}
	}

	maxPerDay := 0
	if v := q.Get("maxEventsPerDay"); v != "" {
		maxPerDay, err = strconv.Atoi(v)
		if err != nil || maxPerDay < 0 {
			return query, 0, fmt.Errorf("%w: maxEventsPerDay must be a non-negative integer", calendar.ErrInvalidParameter)
		}
	}

	return query, maxPerDay, nil
}
