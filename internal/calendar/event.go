package calendar

import (
	"sort"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

const (
	defaultEventStatus  = "confirmed"
	defaultCalendarName = "Untitled"
	defaultAccessRole   = "reader"
	dateLayout          = "2006-01-02"
)

// Person identifies an attendee or the creator of an event.
type Person struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Event is the normalized view of a calendar event.
type Event struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	AllDay      bool     `json:"allDay"`
	Location    string   `json:"location"`
	Attendees   []Person `json:"attendees"`
	Status      string   `json:"status"`
	Link        string   `json:"link"`
	Creator     *Person  `json:"creator,omitempty"`
}

// Calendar is one entry of the user's calendar list.
type Calendar struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	IsPrimary       bool   `json:"isPrimary"`
	AccessRole      string `json:"accessRole"`
	TimeZone        string `json:"timeZone,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	ForegroundColor string `json:"foregroundColor,omitempty"`
}

func eventFromAPI(e *gcal.Event) Event {
	ev := Event{
		ID:          e.Id,
		Title:       e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Status:      e.Status,
		Link:        e.HtmlLink,
		Attendees:   []Person{},
	}
	if ev.Status == "" {
		ev.Status = defaultEventStatus
	}

	ev.Start, ev.AllDay = eventTime(e.Start)
	ev.End, _ = eventTime(e.End)

	for _, a := range e.Attendees {
		if a == nil {
			continue
		}
		name := a.DisplayName
		if name == "" {
			name = a.Email
		}
		ev.Attendees = append(ev.Attendees, Person{Email: a.Email, DisplayName: name})
	}

	if e.Creator != nil {
		ev.Creator = &Person{Email: e.Creator.Email, DisplayName: e.Creator.DisplayName}
	}
	return ev
}

// eventTime prefers the timed value and falls back to the all-day date.
func eventTime(t *gcal.EventDateTime) (string, bool) {
	if t == nil {
		return "", false
	}
	if t.DateTime != "" {
		return t.DateTime, false
	}
	return t.Date, t.Date != ""
}

func calendarFromAPI(c *gcal.CalendarListEntry) Calendar {
	cal := Calendar{
		ID:              c.Id,
		Name:            c.Summary,
		Description:     c.Description,
		IsPrimary:       c.Primary,
		AccessRole:      c.AccessRole,
		TimeZone:        c.TimeZone,
		BackgroundColor: c.BackgroundColor,
		ForegroundColor: c.ForegroundColor,
	}
	if cal.Name == "" {
		cal.Name = defaultCalendarName
	}
	if cal.AccessRole == "" {
		cal.AccessRole = defaultAccessRole
	}
	return cal
}

// StartTime parses the event start. All-day dates are read as UTC midnight.
func (e Event) StartTime() (time.Time, bool) {
	if e.Start == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, e.Start); err == nil {
		return t, true
	}
	if t, err := time.Parse(dateLayout, e.Start); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// GroupByDate buckets events by the UTC date of their start, ordered by start
// time within each day. maxPerDay <= 0 keeps every event. Events without a
// parsable start are left out.
func GroupByDate(events []Event, maxPerDay int) map[string][]Event {
	type timed struct {
		event Event
		start time.Time
	}

	buckets := make(map[string][]timed)
	for _, e := range events {
		start, ok := e.StartTime()
		if !ok {
			continue
		}
		key := start.UTC().Format(dateLayout)
		buckets[key] = append(buckets[key], timed{event: e, start: start})
	}

	grouped := make(map[string][]Event, len(buckets))
	for key, day := range buckets {
		sort.SliceStable(day, func(i, j int) bool { return day[i].start.Before(day[j].start) })
		if maxPerDay > 0 && len(day) > maxPerDay {
			day = day[:maxPerDay]
		}
		out := make([]Event, len(day))
		for i, t := range day {
			out[i] = t.event
		}
		grouped[key] = out
	}
	return grouped
}
