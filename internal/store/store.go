// Package store persists users and their Google Calendar credentials.
//
// Users live in the "users" collection; the calendar credential is embedded
// in each user document under "googleCalendar". Every repository method is a
// single document write.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned when no user document exists for an id.
	ErrUserNotFound = errors.New("store: user not found")
	// ErrDisconnected is returned by UpdateAccessToken when the connection was
	// cleared after the refresh started.
	ErrDisconnected = errors.New("store: calendar disconnected")
)

// User is the subset of a back-office user this service reads and writes.
type User struct {
	ID        string             `firestore:"-"`
	Name      string             `firestore:"name,omitempty"`
	Email     string             `firestore:"email,omitempty"`
	Calendar  CalendarCredential `firestore:"googleCalendar"`
	CreatedAt time.Time          `firestore:"createdAt,omitempty"`
	UpdatedAt time.Time          `firestore:"updatedAt,omitempty"`
}

// CalendarCredential is the Google Calendar connection embedded in a user.
// Empty strings and nil times are stored as null.
type CalendarCredential struct {
	Connected    bool       `firestore:"connected"`
	RefreshToken string     `firestore:"refreshToken"`
	AccessToken  string     `firestore:"accessToken"`
	TokenExpiry  *time.Time `firestore:"tokenExpiry"`
	CalendarID   string     `firestore:"calendarId"`
	Email        string     `firestore:"email"`
	ConnectedAt  *time.Time `firestore:"connectedAt"`
}

// Connection is the result of a successful authorization, written in one update.
type Connection struct {
	RefreshToken string
	AccessToken  string
	TokenExpiry  time.Time
	Email        string
	ConnectedAt  time.Time
}

// UserRepository reads and updates user documents.
type UserRepository interface {
	// Get returns the user with the given id or ErrUserNotFound.
	Get(ctx context.Context, id string) (*User, error)
	// SaveConnection marks the user connected and stores the tokens.
	SaveConnection(ctx context.Context, id string, conn Connection) error
	// UpdateAccessToken stores a refreshed access token together with its
	// expiry, or returns ErrDisconnected when the user is no longer connected.
	UpdateAccessToken(ctx context.Context, id, accessToken string, expiry time.Time) error
	// SetCalendarID stores the calendar used when a request names none.
	SetCalendarID(ctx context.Context, id, calendarID string) error
	// ClearConnection resets every credential field.
	ClearConnection(ctx context.Context, id string) error
}

// Pinger is implemented by repositories that can report backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
