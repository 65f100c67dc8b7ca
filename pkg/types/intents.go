package types

// Outbound frame type discriminators
const (
	OutboundMessage      = "message"
	OutboundTyping       = "typing"
	OutboundRead         = "read"
	OutboundOnlineStatus = "online_status"
	OutboundBroadcast    = "broadcast"
)

// OutboundIntent is a UI-originated chat action. Each intent maps 1:1 onto
// one wire frame.
type OutboundIntent interface {
	IntentType() string
	Frame() interface{}
	Validate() error
}

// SendMessage asks the server to deliver content to ReceiverID
type SendMessage struct {
	ReceiverID int64
	Content    string
	ClientRef  string // Optional correlation id echoed in message_sent
}

// SendTyping toggles this user's typing indicator at ToUserID
type SendTyping struct {
	ToUserID int64
	IsTyping bool
}

// MarkRead reports that the listed messages from SenderID were read
type MarkRead struct {
	MessageIDs []int64
	SenderID   int64
}

// RequestOnlineStatus asks for a presence snapshot of UserIDs
type RequestOnlineStatus struct {
	UserIDs []int64
}

// Broadcast is an admin announcement, optionally scoped to a class and section
type Broadcast struct {
	Content     string
	ClassName   string
	SectionName string
}

// Wire frames. Field names and omission rules are the backend's contract.
type messageFrame struct {
	Type       string `json:"type"`
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	ClientRef  string `json:"client_ref,omitempty"`
}

type typingFrame struct {
	Type     string `json:"type"`
	ToUserID int64  `json:"to_user_id"`
	IsTyping bool   `json:"is_typing"`
}

type readFrame struct {
	Type       string  `json:"type"`
	MessageIDs []int64 `json:"message_ids"`
	SenderID   int64   `json:"sender_id"`
}

type onlineStatusFrame struct {
	Type    string  `json:"type"`
	UserIDs []int64 `json:"user_ids"`
}

type broadcastFrame struct {
	Type        string  `json:"type"`
	Content     string  `json:"content"`
	ClassName   *string `json:"class_name"`
	SectionName *string `json:"section_name"`
}

func (SendMessage) IntentType() string         { return OutboundMessage }
func (SendTyping) IntentType() string          { return OutboundTyping }
func (MarkRead) IntentType() string            { return OutboundRead }
func (RequestOnlineStatus) IntentType() string { return OutboundOnlineStatus }
func (Broadcast) IntentType() string           { return OutboundBroadcast }

func (i SendMessage) Frame() interface{} {
	return messageFrame{Type: OutboundMessage, ReceiverID: i.ReceiverID, Content: i.Content, ClientRef: i.ClientRef}
}

func (i SendTyping) Frame() interface{} {
	return typingFrame{Type: OutboundTyping, ToUserID: i.ToUserID, IsTyping: i.IsTyping}
}

func (i MarkRead) Frame() interface{} {
	return readFrame{Type: OutboundRead, MessageIDs: i.MessageIDs, SenderID: i.SenderID}
}

func (i RequestOnlineStatus) Frame() interface{} {
	return onlineStatusFrame{Type: OutboundOnlineStatus, UserIDs: i.UserIDs}
}

// Frame sends absent class/section as JSON null, matching the web client
func (i Broadcast) Frame() interface{} {
	return broadcastFrame{
		Type:        OutboundBroadcast,
		Content:     i.Content,
		ClassName:   optional(i.ClassName),
		SectionName: optional(i.SectionName),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
