package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"signly/internal/calendar"
	"signly/internal/googleauth"
	"signly/internal/store"
	"signly/pkg/auth"
)

// Error codes returned in the "code" field of failed responses.
const (
	CodeNotConnected     = "CALENDAR_NOT_CONNECTED"
	CodeAuthError        = "CALENDAR_AUTH_ERROR"
	CodePermissionError  = "CALENDAR_PERMISSION_ERROR"
	CodeCalendarNotFound = "CALENDAR_NOT_FOUND"
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeUserNotFound     = "USER_NOT_FOUND"
	CodeUnauthenticated  = "UNAUTHENTICATED"
)

const (
	internalErrorMessage = "internal server error"
	msgUserNotFound      = "user not found"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// classify maps a domain error to an HTTP status and error code. Unknown
// errors yield 500 with an empty code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, calendar.ErrInvalidParameter):
		return http.StatusBadRequest, CodeInvalidParameter
	case errors.Is(err, calendar.ErrNotConnected):
		return http.StatusForbidden, CodeNotConnected
	case errors.Is(err, calendar.ErrAuth), errors.Is(err, googleauth.ErrRefreshTokenInvalid):
		return http.StatusUnauthorized, CodeAuthError
	case errors.Is(err, calendar.ErrPermission):
		return http.StatusForbidden, CodePermissionError
	case errors.Is(err, calendar.ErrCalendarNotFound):
		return http.StatusNotFound, CodeCalendarNotFound
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, CodeUserNotFound
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthenticated
	}
	return http.StatusInternalServerError, ""
}

// handleError writes the JSON error body for err. Internal errors are logged
// with the request id and hidden from clients unless showInternal is set.
func handleError(w http.ResponseWriter, r *http.Request, err error, showInternal bool) {
	status, code := classify(err)
	if status != http.StatusInternalServerError {
		logRequest(r, "[WARN]", "request failed", err)
		writeError(w, status, clientMessage(err, code), code)
		return
	}

	logRequest(r, "[ERROR]", "internal error", err)
	message := internalErrorMessage
	if showInternal {
		message = err.Error()
	}
	writeError(w, status, message, "")
}

// clientMessage returns the text shown to clients for a classified error.
// Store errors carry a package prefix that stays in the logs.
func clientMessage(err error, code string) string {
	if code == CodeUserNotFound {
		return msgUserNotFound
	}
	return err.Error()
}

func logRequest(r *http.Request, level, message string, err error) {
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		log.Printf("%s RequestID=%s: %s: %v", level, requestID, message, err)
		return
	}
	log.Printf("%s %s: %v", level, message, err)
}
