package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Inbound frame type discriminators
const (
	InboundNewMessage   = "new_message"
	InboundMessageSent  = "message_sent"
	InboundMessagesRead = "messages_read"
	InboundTyping       = "typing"
	InboundOnlineStatus = "online_status"
	InboundUserOnline   = "user_online"
	InboundUserOffline  = "user_offline"
	InboundAnnouncement = "broadcast_message"
)

// InboundEvent is one parsed inbound frame. The concrete types below are the
// only implementations.
type InboundEvent interface {
	EventType() string
}

// NewMessageEvent carries a message delivered to (or echoed for) this user
type NewMessageEvent struct {
	Message Message `json:"message"`
}

// MessageSentEvent acknowledges a message this user sent over the socket
type MessageSentEvent struct {
	MessageID  int64  `json:"message_id"`
	ReceiverID int64  `json:"receiver_id"`
	ClientRef  string `json:"client_ref,omitempty"`
}

// MessagesReadEvent reports that ReadBy has read the listed messages
type MessagesReadEvent struct {
	ReadBy     int64     `json:"read_by"`
	MessageIDs []int64   `json:"message_ids"`
	ReadAt     time.Time `json:"read_at"`
}

// TypingEvent reports the typing state of another user
type TypingEvent struct {
	FromUserID int64 `json:"from_user_id"`
	IsTyping   bool  `json:"is_typing"`
}

// OnlineStatusEvent is a server-pushed presence snapshot
type OnlineStatusEvent struct {
	Status map[int64]bool
}

// UserOnlineEvent reports a single user coming online
type UserOnlineEvent struct {
	UserID int64 `json:"user_id"`
}

// UserOfflineEvent reports a single user going offline
type UserOfflineEvent struct {
	UserID int64 `json:"user_id"`
}

// AnnouncementEvent is an admin broadcast delivered to this user
type AnnouncementEvent struct {
	Content   string    `json:"content"`
	FromAdmin bool      `json:"from_admin"`
	Timestamp time.Time `json:"timestamp"`
}

func (NewMessageEvent) EventType() string   { return InboundNewMessage }
func (MessageSentEvent) EventType() string  { return InboundMessageSent }
func (MessagesReadEvent) EventType() string { return InboundMessagesRead }
func (TypingEvent) EventType() string       { return InboundTyping }
func (OnlineStatusEvent) EventType() string { return InboundOnlineStatus }
func (UserOnlineEvent) EventType() string   { return InboundUserOnline }
func (UserOfflineEvent) EventType() string  { return InboundUserOffline }
func (AnnouncementEvent) EventType() string { return InboundAnnouncement }

// envelope is the minimal shape shared by every frame
type envelope struct {
	Type string `json:"type"`
}

// FrameType extracts the type discriminator of a raw frame
func FrameType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env.Type, nil
}

// ParseInboundEvent decodes one raw inbound frame.
// Returns ErrMalformedFrame for undecodable frames and ErrUnknownFrameType
// for well-formed frames with a type this client does not handle.
func ParseInboundEvent(data []byte) (InboundEvent, error) {
	frameType, err := FrameType(data)
	if err != nil {
		return nil, err
	}

	switch frameType {
	case InboundNewMessage:
		var ev NewMessageEvent
		if err := decodeFrame(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case InboundMessageSent:
		var ev MessageSentEvent
		if err := decodeFrame(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case InboundMessagesRead:
		var raw struct {
			ReadBy     int64    `json:"read_by"`
			MessageIDs []int64  `json:"message_ids"`
			ReadAt     WireTime `json:"read_at"`
		}
		if err := decodeFrame(data, &raw); err != nil {
			return nil, err
		}
		return MessagesReadEvent{ReadBy: raw.ReadBy, MessageIDs: raw.MessageIDs, ReadAt: raw.ReadAt.Time}, nil

	case InboundTyping:
		var ev TypingEvent
		if err := decodeFrame(data, &ev); err != nil {
			return nil, err
		}
		if ev.FromUserID == 0 {
			return nil, fmt.Errorf("%w: typing frame without from_user_id", ErrMalformedFrame)
		}
		return ev, nil

	case InboundOnlineStatus:
		var raw struct {
			Status map[string]bool `json:"status"`
		}
		if err := decodeFrame(data, &raw); err != nil {
			return nil, err
		}
		// FUNCTIONAL DISCOVERY: status keys are JSON object keys, so user IDs arrive as strings
		status := make(map[int64]bool, len(raw.Status))
		for key, online := range raw.Status {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: non-numeric user id %q in online_status", ErrMalformedFrame, key)
			}
			status[id] = online
		}
		return OnlineStatusEvent{Status: status}, nil

	case InboundUserOnline:
		var ev UserOnlineEvent
		if err := decodeFrame(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case InboundUserOffline:
		var ev UserOfflineEvent
		if err := decodeFrame(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case InboundAnnouncement:
		var raw struct {
			Content   string   `json:"content"`
			FromAdmin bool     `json:"from_admin"`
			Timestamp WireTime `json:"timestamp"`
		}
		if err := decodeFrame(data, &raw); err != nil {
			return nil, err
		}
		return AnnouncementEvent{Content: raw.Content, FromAdmin: raw.FromAdmin, Timestamp: raw.Timestamp.Time}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFrameType, frameType)
	}
}

func decodeFrame(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
