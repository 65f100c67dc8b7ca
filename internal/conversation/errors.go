package conversation

import "errors"

// Conversation binding error types
var (
	ErrNoConversation = errors.New("no conversation selected")
	ErrBindingClosed  = errors.New("conversation binding is closed")
)
