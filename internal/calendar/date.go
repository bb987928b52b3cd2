package calendar

import (
	"fmt"
	"strings"
	"time"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", time.DateOnly}

// ParseDate reads a query bound given as an RFC 3339 timestamp or a plain
// date. Values without a zone are taken as UTC and an empty value yields the
// zero time. Errors wrap ErrInvalidParameter and name the parameter.
func ParseDate(name, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s must be an ISO 8601 date (e.g. 2024-01-01T00:00:00Z)", ErrInvalidParameter, name)
}
