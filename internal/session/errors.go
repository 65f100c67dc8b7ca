package session

import "errors"

var (
	ErrNotLoggedIn   = errors.New("no user is logged in")
	ErrInvalidToken  = errors.New("access token is malformed")
	ErrTokenExpired  = errors.New("access token has expired")
	ErrNoUserID      = errors.New("access token carries no user ID")
	ErrUserMismatch  = errors.New("token belongs to a different user")
	ErrAuthRejected  = errors.New("chat server rejected the credentials")
	ErrSessionClosed = errors.New("session controller is closed")
)
