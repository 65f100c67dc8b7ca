package interfaces

import "context"

// Socket is one live duplex chat connection
// ARCHITECTURAL DISCOVERY: Pure abstraction over the transport so the
// connection manager can be driven by fakes in tests
type Socket interface {
	// WriteJSON queues v as one text frame. Safe for concurrent use.
	WriteJSON(v interface{}) error

	// ReadMessage blocks until the next text frame arrives.
	// When the socket ends it returns a *types.CloseError carrying the close code.
	// Only one goroutine may call ReadMessage.
	ReadMessage() ([]byte, error)

	// Close releases the socket. Idempotent.
	Close() error
}

// Dialer opens sockets against the chat endpoint
type Dialer interface {
	// Dial opens the socket for userID authenticated by token.
	// A handshake rejected for bad credentials returns a *types.CloseError
	// with code types.CloseAuthRejected.
	Dial(ctx context.Context, userID int64, token string) (Socket, error)
}
