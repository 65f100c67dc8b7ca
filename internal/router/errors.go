package router

import "errors"

// Router-specific error types
var (
	ErrRateLimited = errors.New("typing indicator rate limit exceeded")
	ErrNoTransport = errors.New("router has no transport")
)
