// Package auth issues and verifies the bearer session tokens of the
// back-office API and carries the authenticated user through a context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a type for context keys used in this package.
type contextKey string

const userIDKey contextKey = "user_id"

// DefaultSessionTTL is the lifetime of tokens minted by Issue.
const DefaultSessionTTL = 7 * 24 * time.Hour

var (
	// ErrTokenMissing is returned when no bearer token is present.
	ErrTokenMissing = errors.New("token not provided")
	// ErrTokenInvalid is returned for unsigned, tampered or malformed tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for correctly signed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrUnauthenticated is returned when an operation has no user.
	ErrUnauthenticated = errors.New("authentication required")
)

// WithUserID returns a new context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user id, if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// Claims are the JWT claims of a session token.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Sessions signs and verifies HS256 session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a Sessions using secret as the HMAC key.
func NewSessions(secret []byte, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{secret: secret, ttl: ttl, now: time.Now}
}

// Issue mints a session token for a user.
func (s *Sessions) Issue(userID, email string) (string, error) {
	if userID == "" {
		return "", ErrUnauthenticated
	}

	now := s.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of a session token.
func (s *Sessions) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: no user id", ErrTokenInvalid)
	}
	return claims, nil
}

// ExtractBearerToken extracts the token from the Authorization header.
// Expected format: "Bearer <token>"
func ExtractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	const bearerPrefix = "Bearer "
	if len(authHeader) < len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}

	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}
