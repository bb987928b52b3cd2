// Package googleauth wraps the Google OAuth2 endpoints used to connect a
// user's calendar: consent URL, code exchange, token refresh and the
// best-effort profile lookup.
package googleauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Scopes requested at consent: read-only calendar access plus the email
// address used to label the connection.
var Scopes = []string{
	calendar.CalendarReadonlyScope,
	oauth2api.UserinfoEmailScope,
}

// defaultTokenLifetime applies when the provider omits expires_in.
const defaultTokenLifetime = time.Hour

var (
	// ErrTokenExchangeFailed wraps a rejected authorization code exchange.
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	// ErrNoRefreshToken is returned when consent did not yield a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token received; revoke access at https://myaccount.google.com/permissions and try again")
	// ErrRefreshTokenInvalid means the provider rejected the refresh token; the user must reconnect.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
	// ErrRefreshFailed covers transport and provider failures during refresh.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Tokens is the result of an exchange or a refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// Profile is the subset of the Google user info we keep.
type Profile struct {
	Email string
	Name  string
}

// Client talks to Google's OAuth2 endpoints.
type Client struct {
	config     *oauth2.Config
	apiOptions []option.ClientOption
	now        func() time.Time
}

// NewClient creates a Client from a loaded OAuth2 configuration.
func NewClient(config *oauth2.Config, opts ...option.ClientOption) *Client {
	return &Client{
		config:     config,
		apiOptions: opts,
		now:        time.Now,
	}
}

// AuthorizationURL returns the consent URL. Offline access and a forced
// consent prompt make Google return a refresh token every time.
func (c *Client) AuthorizationURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*Tokens, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		log.Printf("Failed to exchange code for tokens: %v", err)
		return nil, fmt.Errorf("%w: %s", ErrTokenExchangeFailed, providerMessage(err))
	}

	if token.RefreshToken == "" {
		log.Printf("Warning: No refresh token received. User may need to revoke access and re-authorize.")
		return nil, ErrNoRefreshToken
	}

	log.Printf("Token exchange successful, refresh_token=%s, expiry=%s",
		truncateToken(token.RefreshToken), token.Expiry.Format(time.RFC3339))
	return c.tokens(token), nil
}

// Refresh obtains a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, ErrRefreshTokenInvalid
	}

	token, err := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			re.Response.StatusCode >= http.StatusBadRequest && re.Response.StatusCode < http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %s", ErrRefreshTokenInvalid, providerMessage(err))
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	return c.tokens(token), nil
}

// FetchProfile returns the account's email and name, or nil when the lookup fails.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) *Profile {
	opts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}, c.apiOptions...)

	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		log.Printf("Failed to create userinfo client: %v", err)
		return nil
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		log.Printf("Failed to get user email: %v", err)
		return nil
	}

	return &Profile{Email: info.Email, Name: info.Name}
}

func (c *Client) tokens(token *oauth2.Token) *Tokens {
	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = c.now().Add(defaultTokenLifetime)
	}

	t := &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		t.Scope = scope
	}
	return t
}

// providerMessage extracts the human-readable part of an OAuth error response.
func providerMessage(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorDescription != "" {
			return re.ErrorDescription
		}
		if re.ErrorCode != "" {
			return re.ErrorCode
		}
	}
	return err.Error()
}

// truncateToken returns a truncated preview of a token for logging.
func truncateToken(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10] + "..."
}
