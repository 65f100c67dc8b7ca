package types

import (
	"time"
)

// ConnectionState is the lifecycle state of the chat socket.
// ARCHITECTURAL DISCOVERY: Owned exclusively by the connection manager,
// every other component only reads it
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

// String returns the lower-case name used in logs and the CLI status badge
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent describes one connection state transition
type StateEvent struct {
	Old       ConnectionState
	New       ConnectionState
	CloseCode int           // Set when the transition was caused by a socket close
	Attempt   int           // Reconnect attempt counter after the transition
	Delay     time.Duration // Scheduled reconnect delay when New is StateReconnecting
}

// Message is one direct message in a conversation
// FUNCTIONAL DISCOVERY: ID is zero while an optimistic echo is waiting for the
// server; ClientRef identifies it until then
type Message struct {
	ID         int64      `json:"id"`
	SenderID   int64      `json:"sender_id"`
	ReceiverID int64      `json:"receiver_id"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
	IsRead     bool       `json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	ClientRef  string     `json:"client_ref,omitempty"`
	IsSending  bool       `json:"-"` // Client-only, never on the wire
}

// Conversation is a conversation summary as returned by the REST API
type Conversation struct {
	ID           int64  `json:"id"` // Equals the partner's user ID
	Username     string `json:"username"`
	FullName     string `json:"full_name"`
	ProfileImage string `json:"profile_image,omitempty"`
	ClassID      *int64 `json:"class_id,omitempty"`
	SectionID    *int64 `json:"section_id,omitempty"`
	ClassName    string `json:"class_name,omitempty"`
	SectionName  string `json:"section_name,omitempty"`
	UnreadCount  int    `json:"unread_count"`
}

// DisplayName prefers the full name over the username
func (c Conversation) DisplayName() string {
	if c.FullName != "" {
		return c.FullName
	}
	return c.Username
}
