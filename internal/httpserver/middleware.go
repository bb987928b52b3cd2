package httpserver

import (
	"errors"
	"net/http"

	"signly/internal/calendar"
	"signly/internal/store"
	"signly/pkg/auth"
)

// Authenticator resolves the bearer session token of a request to a user.
type Authenticator struct {
	sessions *auth.Sessions
	users    calendar.UserReader
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(sessions *auth.Sessions, users calendar.UserReader) *Authenticator {
	return &Authenticator{sessions: sessions, users: users}
}

// RequireSession rejects requests without a valid session for an existing
// user and stores the user id in the request context.
func (a *Authenticator) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.sessions.Verify(auth.ExtractBearerToken(r))
		if err != nil {
			unauthorized(w, sessionMessage(err))
			return
		}

		if _, err := a.users.Get(r.Context(), claims.UserID); err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				unauthorized(w, msgUserNotFound)
				return
			}
			logRequest(r, "[ERROR]", "failed to load session user", err)
			unauthorized(w, "authentication failed")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), claims.UserID)))
	})
}

// sessionMessage strips parser details from token errors.
func sessionMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return auth.ErrTokenMissing.Error()
	case errors.Is(err, auth.ErrTokenExpired):
		return auth.ErrTokenExpired.Error()
	}
	return auth.ErrTokenInvalid.Error()
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="signly"`)
	writeError(w, http.StatusUnauthorized, message, "")
}

// userID returns the id stored by RequireSession.
func userID(r *http.Request) (string, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", auth.ErrUnauthenticated
	}
	return id, nil
}
