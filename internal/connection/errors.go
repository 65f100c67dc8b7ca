package connection

import "errors"

// Connection manager error types
var (
	ErrManagerClosed  = errors.New("connection manager is closed")
	ErrConnectAborted = errors.New("connect aborted by disconnect")
)
