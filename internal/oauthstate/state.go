// Package oauthstate issues and verifies the state parameter carried through
// the Google consent redirect.
//
// A state token is the JSON payload {userId, issuedAt, nonce} signed with
// HMAC-SHA256 (gorilla/securecookie) and encoded as URL-safe base64. Tokens are
// valid for 15 minutes and, through a NonceStore, accepted at most once.
package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

// TTL is how long a state token stays valid after it is issued.
const TTL = 15 * time.Minute

// clockSkew tolerates issuedAt values slightly ahead of the local clock.
const clockSkew = time.Minute

// securecookie binds the MAC to a name so tokens cannot be swapped with other values.
const tokenName = "calendar_oauth_state"

var (
	// ErrStateInvalid is returned for malformed, tampered or incomplete tokens.
	ErrStateInvalid = errors.New("oauthstate: invalid state")
	// ErrStateExpired is returned for well-formed tokens older than TTL.
	ErrStateExpired = errors.New("oauthstate: state expired")
	// ErrStateReplayed is returned when a token's nonce was already consumed.
	ErrStateReplayed = errors.New("oauthstate: state already used")
)

// State is the decoded payload of a state token.
type State struct {
	UserID   string `json:"userId"`
	IssuedAt int64  `json:"issuedAt"` // unix milliseconds
	Nonce    string `json:"nonce"`
}

// IssuedTime returns IssuedAt as a time.Time.
func (s *State) IssuedTime() time.Time {
	return time.UnixMilli(s.IssuedAt)
}

// NonceStore remembers consumed nonces until they expire.
type NonceStore interface {
	// Consume reports true the first time nonce is seen.
	Consume(ctx context.Context, nonce string, expiresAt time.Time) (bool, error)
}

// Codec encodes and decodes state tokens.
type Codec struct {
	sc       *securecookie.SecureCookie
	ttl      time.Duration
	now      func() time.Time
	newNonce func() string
}

// NewCodec creates a Codec signing with key. The key should be at least 32 bytes.
func NewCodec(key []byte) *Codec {
	sc := securecookie.New(key, nil)
	// Expiry is checked against issuedAt so it can be reported separately.
	sc.MaxAge(0)
	sc.SetSerializer(securecookie.JSONEncoder{})

	return &Codec{
		sc:       sc,
		ttl:      TTL,
		now:      time.Now,
		newNonce: uuid.NewString,
	}
}

// Encode issues a fresh state token for userID.
func (c *Codec) Encode(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrStateInvalid)
	}

	st := State{
		UserID:   userID,
		IssuedAt: c.now().UnixMilli(),
		Nonce:    c.newNonce(),
	}
	token, err := c.sc.Encode(tokenName, st)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return token, nil
}

// Decode verifies the signature and age of a state token.
func (c *Codec) Decode(token string) (*State, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrStateInvalid)
	}

	var st State
	if err := c.sc.Decode(tokenName, token, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateInvalid, err)
	}
	if st.UserID == "" || st.IssuedAt <= 0 || st.Nonce == "" {
		return nil, fmt.Errorf("%w: incomplete payload", ErrStateInvalid)
	}

	age := c.now().Sub(st.IssuedTime())
	if age < -clockSkew {
		return nil, fmt.Errorf("%w: issued in the future", ErrStateInvalid)
	}
	if age > c.ttl {
		return nil, ErrStateExpired
	}
	return &st, nil
}

// Consume marks the state's nonce as used. A second call for the same state
// returns ErrStateReplayed.
func (c *Codec) Consume(ctx context.Context, nonces NonceStore, st *State) error {
	fresh, err := nonces.Consume(ctx, st.Nonce, st.IssuedTime().Add(c.ttl))
	if err != nil {
		return fmt.Errorf("failed to consume state: %w", err)
	}
	if !fresh {
		return ErrStateReplayed
	}
	return nil
}
