package api

import (
	"errors"
	"fmt"
)

// Client error types
var (
	ErrInvalidBaseURL = errors.New("invalid API base URL")
	ErrNoToken        = errors.New("no access token set")
)

// Error is a non-2xx answer from the portal API. Detail carries the
// backend's "detail" field when present.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Detail)
}

// IsStatus reports whether err is an *Error with the given status code
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
