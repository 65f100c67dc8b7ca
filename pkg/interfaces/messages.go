package interfaces

import (
	"context"

	"classchat/pkg/types"
)

// MessageAPI is the REST collaborator for message history and fallback sends
type MessageAPI interface {
	// ConversationHistory returns the full message history with partnerID, oldest first
	ConversationHistory(ctx context.Context, partnerID int64) ([]types.Message, error)

	// SendMessage creates a message through REST and returns the stored message
	SendMessage(ctx context.Context, receiverID int64, content string) (*types.Message, error)

	// Conversations lists conversation summaries for the logged-in user
	Conversations(ctx context.Context) ([]types.Conversation, error)
}
