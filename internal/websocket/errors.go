package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write queue timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Dialer-related errors
var (
	ErrInvalidEndpoint = errors.New("invalid chat endpoint")
	ErrDialFailed      = errors.New("chat socket dial failed")
)
