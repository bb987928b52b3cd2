package calendar

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"signly/internal/googleauth"
	"signly/internal/metrics"
	"signly/internal/store"
)

// RefreshMargin is how long before expiry an access token stops being used.
const RefreshMargin = 5 * time.Minute

// refreshTimeout bounds a shared refresh once it no longer follows any caller's context.
const refreshTimeout = 30 * time.Second

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*googleauth.Tokens, error)
}

// TokenWriter persists a refreshed access token.
type TokenWriter interface {
	UpdateAccessToken(ctx context.Context, id, accessToken string, expiry time.Time) error
}

// RefreshGate hands out access tokens that stay valid for at least RefreshMargin.
type RefreshGate struct {
	oauth TokenRefresher
	users TokenWriter
	now   func() time.Time
	group singleflight.Group
}

// NewRefreshGate creates a RefreshGate.
func NewRefreshGate(oauth TokenRefresher, users TokenWriter) *RefreshGate {
	return &RefreshGate{
		oauth: oauth,
		users: users,
		now:   time.Now,
	}
}

// NeedsRefresh reports whether cred's access token is missing or inside the margin.
func (g *RefreshGate) NeedsRefresh(cred *store.CalendarCredential) bool {
	if cred.AccessToken == "" || cred.TokenExpiry == nil {
		return true
	}
	return !g.now().Before(cred.TokenExpiry.Add(-RefreshMargin))
}

// EnsureValidAccessToken returns cred's access token, refreshing and
// persisting it first when needed. On success cred holds the new token and
// expiry. On failure nothing is written and cred is unchanged.
//
// Concurrent refreshes for the same user share one provider call. That call
// is detached from ctx: a caller whose ctx ends gets ctx.Err() while the
// refresh completes for the remaining callers.
func (g *RefreshGate) EnsureValidAccessToken(ctx context.Context, userID string, cred *store.CalendarCredential) (string, error) {
	if !g.NeedsRefresh(cred) {
		return cred.AccessToken, nil
	}

	ch := g.group.DoChan(userID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		tokens, err := g.oauth.Refresh(flightCtx, cred.RefreshToken)
		if err != nil {
			if errors.Is(err, googleauth.ErrRefreshTokenInvalid) {
				metrics.RecordTokenRefresh("invalid_grant")
			} else {
				metrics.RecordTokenRefresh("error")
			}
			log.Printf("Failed to refresh access token for user %s: %v", userID, err)
			return nil, err
		}
		metrics.RecordTokenRefresh("success")

		if err := g.users.UpdateAccessToken(flightCtx, userID, tokens.AccessToken, tokens.Expiry); err != nil {
			// The fresh token is still usable; the next request refreshes again.
			if errors.Is(err, store.ErrDisconnected) {
				log.Printf("Discarded refreshed access token for user %s: calendar disconnected", userID)
			} else {
				log.Printf("Failed to persist refreshed access token for user %s: %v", userID, err)
			}
		}
		return tokens, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return "", res.Err
	}

	tokens := res.Val.(*googleauth.Tokens)
	expiry := tokens.Expiry
	cred.AccessToken = tokens.AccessToken
	cred.TokenExpiry = &expiry
	return tokens.AccessToken, nil
}
