// Package oauthflow drives the Google Calendar connect flow: it issues the
// consent URL, completes the browser callback, and reports or removes a
// user's connection.
package oauthflow

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"signly/internal/calendar"
	"signly/internal/googleauth"
	"signly/internal/metrics"
	"signly/internal/oauthstate"
	"signly/internal/store"
	"signly/pkg/auth"
)

// Messages shown to the user on the frontend after a failed callback.
const (
	MsgPermissionsDenied = "permissions denied"
	MsgInvalidParameters = "invalid parameters"
	MsgInvalidState      = "invalid state"
	MsgStateExpired      = "state expired"
	MsgStateUsed         = "state already used"
	MsgUserNotFound      = "user not found"
	MsgSaveFailed        = "failed to save credentials"
	MsgInternal          = "failed to process authorization"
)

// connectedPath is the frontend page that reports the connection result.
const connectedPath = "/calendar/connected"

// OAuth is the provider side of the flow.
type OAuth interface {
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (*googleauth.Tokens, error)
	FetchProfile(ctx context.Context, accessToken string) *googleauth.Profile
}

// PrimaryResolver picks the calendar stored right after connecting.
type PrimaryResolver interface {
	ResolvePrimaryCalendarID(ctx context.Context, userID string) calendar.Resolution
}

// Config holds the dependencies of a Controller.
type Config struct {
	OAuth       OAuth
	States      *oauthstate.Codec
	Nonces      oauthstate.NonceStore
	Users       store.UserRepository
	Calendars   PrimaryResolver
	FrontendURL string // Base URL of the frontend, without trailing slash
}

// Controller implements the connect, callback, status and disconnect operations.
type Controller struct {
	oauth       OAuth
	states      *oauthstate.Codec
	nonces      oauthstate.NonceStore
	users       store.UserRepository
	calendars   PrimaryResolver
	frontendURL string
	now         func() time.Time
}

// New creates a Controller.
func New(cfg *Config) *Controller {
	return &Controller{
		oauth:       cfg.OAuth,
		states:      cfg.States,
		nonces:      cfg.Nonces,
		users:       cfg.Users,
		calendars:   cfg.Calendars,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		now:         time.Now,
	}
}

// CallbackParams are the query parameters Google sends to the callback.
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// CallbackResult says where to send the browser and what happened.
type CallbackResult struct {
	RedirectURL string
	Success     bool
	UserID      string
	// Message is the user-facing failure reason; empty on success.
	Message string
	// Degraded is set when the connection succeeded but the profile lookup
	// or the default calendar could not be completed.
	Degraded bool
	Reasons  []string
}

// Status is the connection summary returned to the frontend.
type Status struct {
	Connected   bool       `json:"connected"`
	Email       *string    `json:"email"`
	CalendarID  *string    `json:"calendarId"`
	ConnectedAt *time.Time `json:"connectedAt"`
}

// Initiate returns the Google consent URL for userID.
func (c *Controller) Initiate(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", auth.ErrUnauthenticated
	}

	state, err := c.states.Encode(userID)
	if err != nil {
		return "", err
	}

	log.Printf("Issued calendar consent URL for user: %s", userID)
	return c.oauth.AuthorizationURL(state), nil
}

// HandleCallback completes the authorization. It never returns an error: every
// outcome becomes a redirect to the frontend.
func (c *Controller) HandleCallback(ctx context.Context, p CallbackParams) CallbackResult {
	if p.Error != "" {
		log.Printf("OAuth error: %s", p.Error)
		return c.fail("denied", MsgPermissionsDenied)
	}
	if p.Code == "" || p.State == "" {
		log.Printf("Missing code or state parameter")
		return c.fail("invalid_request", MsgInvalidParameters)
	}

	st, err := c.states.Decode(p.State)
	if err != nil {
		log.Printf("Rejected state parameter: %v", err)
		if errors.Is(err, oauthstate.ErrStateExpired) {
			return c.fail("expired_state", MsgStateExpired)
		}
		return c.fail("invalid_state", MsgInvalidState)
	}

	if err := c.states.Consume(ctx, c.nonces, st); err != nil {
		if errors.Is(err, oauthstate.ErrStateReplayed) {
			log.Printf("Replayed state for user: %s", st.UserID)
			return c.fail("replayed_state", MsgStateUsed)
		}
		log.Printf("Failed to consume state: %v", err)
		return c.fail("store_error", MsgInternal)
	}

	if _, err := c.users.Get(ctx, st.UserID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Printf("OAuth callback for unknown user: %s", st.UserID)
			return c.fail("user_not_found", MsgUserNotFound)
		}
		log.Printf("Failed to load user %s: %v", st.UserID, err)
		return c.fail("store_error", MsgInternal)
	}

	tokens, err := c.oauth.Exchange(ctx, p.Code)
	if err != nil {
		return c.fail("exchange_failed", err.Error())
	}

	result := CallbackResult{Success: true, UserID: st.UserID}

	var email string
	if profile := c.oauth.FetchProfile(ctx, tokens.AccessToken); profile != nil {
		email = profile.Email
	} else {
		result.degrade("profile unavailable")
	}

	err = c.users.SaveConnection(ctx, st.UserID, store.Connection{
		RefreshToken: tokens.RefreshToken,
		AccessToken:  tokens.AccessToken,
		TokenExpiry:  tokens.Expiry,
		Email:        email,
		ConnectedAt:  c.now(),
	})
	if err != nil {
		log.Printf("Failed to save calendar credentials for user %s: %v", st.UserID, err)
		return c.fail("store_error", MsgSaveFailed)
	}

	// The connection is complete at this point; the default calendar is optional.
	resolution := c.calendars.ResolvePrimaryCalendarID(ctx, st.UserID)
	if resolution.Degraded {
		result.degrade("primary calendar unresolved: " + resolution.Reason)
	}
	if err := c.users.SetCalendarID(ctx, st.UserID, resolution.CalendarID); err != nil {
		log.Printf("Failed to save calendar id for user %s: %v", st.UserID, err)
		result.degrade("calendar id not saved")
	}

	log.Printf("OAuth callback successful for user: %s, email=%s, calendar=%s, degraded=%v",
		st.UserID, email, resolution.CalendarID, result.Degraded)

	if result.Degraded {
		metrics.RecordOAuthCallback("success_degraded")
	} else {
		metrics.RecordOAuthCallback("success")
	}
	result.RedirectURL = c.frontendURL + connectedPath + "?success=true"
	return result
}

// Disconnect clears the user's calendar connection.
func (c *Controller) Disconnect(ctx context.Context, userID string) error {
	if userID == "" {
		return auth.ErrUnauthenticated
	}
	if err := c.users.ClearConnection(ctx, userID); err != nil {
		return err
	}
	log.Printf("Google Calendar disconnected for user: %s", userID)
	return nil
}

// Status reports the user's connection.
func (c *Controller) Status(ctx context.Context, userID string) (*Status, error) {
	if userID == "" {
		return nil, auth.ErrUnauthenticated
	}

	user, err := c.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	cred := user.Calendar
	return &Status{
		Connected:   cred.Connected,
		Email:       optional(cred.Email),
		CalendarID:  optional(cred.CalendarID),
		ConnectedAt: cred.ConnectedAt,
	}, nil
}

func (c *Controller) fail(outcome, message string) CallbackResult {
	metrics.RecordOAuthCallback(outcome)
	return CallbackResult{
		RedirectURL: c.frontendURL + connectedPath + "?success=false&error=" + encodeComponent(message),
		Message:     message,
	}
}

func (r *CallbackResult) degrade(reason string) {
	r.Degraded = true
	r.Reasons = append(r.Reasons, reason)
}

// encodeComponent escapes a query value with %20 for spaces.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
