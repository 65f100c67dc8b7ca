package types

import (
	"errors"
	"fmt"
)

// Close codes the client distinguishes
const (
	CloseNormal       = 1000
	CloseGoingAway    = 1001
	CloseAbnormal     = 1006
	CloseAuthRejected = 4001 // Reserved by the backend: credentials rejected, do not reconnect
)

var (
	ErrNotConnected     = errors.New("chat socket is not connected")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
	ErrInvalidUserID    = errors.New("user ID must be a positive integer")
	ErrEmptyContent     = errors.New("message content cannot be empty")
	ErrContentTooLarge  = errors.New("message content exceeds 64KB limit")
	ErrNoMessageIDs     = errors.New("at least one message ID is required")
	ErrNoUserIDs        = errors.New("at least one user ID is required")
)

// CloseError reports why a socket stopped delivering frames
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("socket closed with code %d", e.Code)
	}
	return fmt.Sprintf("socket closed with code %d: %s", e.Code, e.Reason)
}

// CloseCode extracts the close code from err, CloseAbnormal when err carries none
func CloseCode(err error) int {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return CloseAbnormal
}
