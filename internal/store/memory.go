package store

import (
	"context"
	"sync"
	"time"
)

// MemoryUsers is an in-process UserRepository used in tests and local development.
type MemoryUsers struct {
	mu    sync.RWMutex
	users map[string]User
	now   func() time.Time
}

// NewMemoryUsers creates an empty in-memory repository.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		users: make(map[string]User),
		now:   time.Now,
	}
}

// Put inserts or replaces a user.
func (s *MemoryUsers) Put(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.users[user.ID] = copyUser(user)
}

// Get returns a copy of the stored user.
func (s *MemoryUsers) Get(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := copyUser(user)
	return &u, nil
}

// SaveConnection marks the user connected.
func (s *MemoryUsers) SaveConnection(_ context.Context, id string, conn Connection) error {
	return s.modify(id, func(c *CalendarCredential) error {
		c.Connected = true
		c.RefreshToken = conn.RefreshToken
		c.AccessToken = conn.AccessToken
		c.TokenExpiry = timePtr(conn.TokenExpiry)
		c.Email = conn.Email
		c.ConnectedAt = timePtr(conn.ConnectedAt)
		return nil
	})
}

// UpdateAccessToken stores the access token and expiry together while the
// user is still connected.
func (s *MemoryUsers) UpdateAccessToken(_ context.Context, id, accessToken string, expiry time.Time) error {
	return s.modify(id, func(c *CalendarCredential) error {
		if !c.Connected {
			return ErrDisconnected
		}
		c.AccessToken = accessToken
		c.TokenExpiry = timePtr(expiry)
		return nil
	})
}

// SetCalendarID stores the default calendar id.
func (s *MemoryUsers) SetCalendarID(_ context.Context, id, calendarID string) error {
	return s.modify(id, func(c *CalendarCredential) error {
		c.CalendarID = calendarID
		return nil
	})
}

// ClearConnection resets every credential field.
func (s *MemoryUsers) ClearConnection(_ context.Context, id string) error {
	return s.modify(id, func(c *CalendarCredential) error {
		*c = CalendarCredential{}
		return nil
	})
}

// Ping always succeeds.
func (s *MemoryUsers) Ping(context.Context) error {
	return nil
}

func (s *MemoryUsers) modify(id string, fn func(c *CalendarCredential) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if err := fn(&user.Calendar); err != nil {
		return err
	}
	user.UpdatedAt = s.now()
	s.users[id] = user
	return nil
}

func copyUser(u User) User {
	if u.Calendar.TokenExpiry != nil {
		t := *u.Calendar.TokenExpiry
		u.Calendar.TokenExpiry = &t
	}
	if u.Calendar.ConnectedAt != nil {
		t := *u.Calendar.ConnectedAt
		u.Calendar.ConnectedAt = &t
	}
	return u
}
