package calendar

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	// ErrNotConnected means the user has no usable calendar connection.
	ErrNotConnected = errors.New("google calendar not connected")
	// ErrAuth means Google rejected the credentials; the user must reconnect.
	ErrAuth = errors.New("google calendar authentication failed")
	// ErrPermission means the account lacks access to the calendar.
	ErrPermission = errors.New("no permission to access this calendar")
	// ErrCalendarNotFound means the calendar id does not exist for the account.
	ErrCalendarNotFound = errors.New("calendar not found")
	// ErrInvalidParameter rejects a query before anything is sent to Google.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrQueryFailed covers every other provider failure.
	ErrQueryFailed = errors.New("calendar query failed")
)

// classifyError maps a Calendar API error onto the package errors.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrAuth, apiErr.Message)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrPermission, apiErr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrCalendarNotFound, apiErr.Message)
		}
		return fmt.Errorf("%w: %s (status %d)", ErrQueryFailed, apiErr.Message, apiErr.Code)
	}

	return fmt.Errorf("%w: %v", ErrQueryFailed, err)
}
