package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionState_String(t *testing.T) {
	tests := map[ConnectionState]string{
		StateIdle:           "idle",
		StateConnecting:     "connecting",
		StateOpen:           "open",
		StateReconnecting:   "reconnecting",
		StateClosed:         "closed",
		ConnectionState(99): "unknown",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}

func TestParseInboundEvent_NewMessage(t *testing.T) {
	frame := `{"type":"new_message","message":{"id":42,"sender_id":7,"receiver_id":3,"content":"hi","timestamp":"2024-03-01T10:00:00+00:00","is_read":false}}`

	ev, err := ParseInboundEvent([]byte(frame))
	require.NoError(t, err)

	msg, ok := ev.(NewMessageEvent)
	require.True(t, ok, "expected NewMessageEvent, got %T", ev)
	assert.Equal(t, int64(42), msg.Message.ID)
	assert.Equal(t, int64(7), msg.Message.SenderID)
	assert.Equal(t, int64(3), msg.Message.ReceiverID)
	assert.Equal(t, "hi", msg.Message.Content)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), msg.Message.Timestamp.UTC())
	assert.False(t, msg.Message.IsRead)
	assert.False(t, msg.Message.IsSending)
}

func TestParseInboundEvent_MessagesReadNaiveTimestamp(t *testing.T) {
	frame := `{"type":"messages_read","read_by":7,"message_ids":[1,2],"read_at":"2024-03-01T10:00:05.123456"}`

	ev, err := ParseInboundEvent([]byte(frame))
	require.NoError(t, err)

	read := ev.(MessagesReadEvent)
	assert.Equal(t, int64(7), read.ReadBy)
	assert.Equal(t, []int64{1, 2}, read.MessageIDs)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 5, 123456000, time.UTC), read.ReadAt)
}

func TestParseInboundEvent_OnlineStatus(t *testing.T) {
	ev, err := ParseInboundEvent([]byte(`{"type":"online_status","status":{"3":true,"4":false}}`))
	require.NoError(t, err)

	status := ev.(OnlineStatusEvent)
	assert.Equal(t, map[int64]bool{3: true, 4: false}, status.Status)
}

func TestParseInboundEvent_SimpleVariants(t *testing.T) {
	tests := []struct {
		frame string
		want  InboundEvent
	}{
		{`{"type":"typing","from_user_id":5,"is_typing":true}`, TypingEvent{FromUserID: 5, IsTyping: true}},
		{`{"type":"user_online","user_id":9}`, UserOnlineEvent{UserID: 9}},
		{`{"type":"user_offline","user_id":9}`, UserOfflineEvent{UserID: 9}},
		{`{"type":"message_sent","message_id":11,"receiver_id":3,"client_ref":"abc"}`, MessageSentEvent{MessageID: 11, ReceiverID: 3, ClientRef: "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.want.EventType(), func(t *testing.T) {
			ev, err := ParseInboundEvent([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestParseInboundEvent_Announcement(t *testing.T) {
	ev, err := ParseInboundEvent([]byte(`{"type":"broadcast_message","content":"exam moved","from_admin":true,"timestamp":"2024-03-01T08:30:00"}`))
	require.NoError(t, err)

	ann := ev.(AnnouncementEvent)
	assert.Equal(t, "exam moved", ann.Content)
	assert.True(t, ann.FromAdmin)
	assert.Equal(t, 8, ann.Timestamp.Hour())
}

func TestParseInboundEvent_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `not json`, ErrMalformedFrame},
		{"missing type", `{"user_id":1}`, ErrMalformedFrame},
		{"bad field type", `{"type":"typing","from_user_id":"x","is_typing":true}`, ErrMalformedFrame},
		{"typing without sender", `{"type":"typing","is_typing":true}`, ErrMalformedFrame},
		{"non numeric status key", `{"type":"online_status","status":{"abc":true}}`, ErrMalformedFrame},
		{"unknown type", `{"type":"sticker","id":1}`, ErrUnknownFrameType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInboundEvent([]byte(tt.frame))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOutboundFrames_WireShape(t *testing.T) {
	tests := []struct {
		intent OutboundIntent
		want   string
	}{
		{SendMessage{ReceiverID: 3, Content: "hi"}, `{"type":"message","receiver_id":3,"content":"hi"}`},
		{SendMessage{ReceiverID: 3, Content: "hi", ClientRef: "r1"}, `{"type":"message","receiver_id":3,"content":"hi","client_ref":"r1"}`},
		{SendTyping{ToUserID: 3, IsTyping: false}, `{"type":"typing","to_user_id":3,"is_typing":false}`},
		{MarkRead{MessageIDs: []int64{1, 2}, SenderID: 3}, `{"type":"read","message_ids":[1,2],"sender_id":3}`},
		{RequestOnlineStatus{UserIDs: []int64{3, 4}}, `{"type":"online_status","user_ids":[3,4]}`},
		{Broadcast{Content: "hello"}, `{"type":"broadcast","content":"hello","class_name":null,"section_name":null}`},
		{Broadcast{Content: "hello", ClassName: "10", SectionName: "A"}, `{"type":"broadcast","content":"hello","class_name":"10","section_name":"A"}`},
	}
	for _, tt := range tests {
		t.Run(tt.intent.IntentType(), func(t *testing.T) {
			data, err := json.Marshal(tt.intent.Frame())
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestIntentValidation(t *testing.T) {
	assert.NoError(t, SendMessage{ReceiverID: 1, Content: "x"}.Validate())
	assert.ErrorIs(t, SendMessage{ReceiverID: 0, Content: "x"}.Validate(), ErrInvalidUserID)
	assert.ErrorIs(t, SendMessage{ReceiverID: 1, Content: "   "}.Validate(), ErrEmptyContent)
	assert.ErrorIs(t, SendMessage{ReceiverID: 1, Content: strings.Repeat("a", MaxContentBytes+1)}.Validate(), ErrContentTooLarge)

	assert.ErrorIs(t, SendTyping{}.Validate(), ErrInvalidUserID)
	assert.ErrorIs(t, MarkRead{SenderID: 1}.Validate(), ErrNoMessageIDs)
	assert.ErrorIs(t, MarkRead{MessageIDs: []int64{1}}.Validate(), ErrInvalidUserID)
	assert.ErrorIs(t, RequestOnlineStatus{}.Validate(), ErrNoUserIDs)
	assert.ErrorIs(t, RequestOnlineStatus{UserIDs: []int64{1, -2}}.Validate(), ErrInvalidUserID)
	assert.ErrorIs(t, Broadcast{}.Validate(), ErrEmptyContent)
}

func TestCloseCode(t *testing.T) {
	assert.Equal(t, CloseAuthRejected, CloseCode(&CloseError{Code: CloseAuthRejected}))
	assert.Equal(t, CloseNormal, CloseCode(errors.Join(errors.New("wrapped"), &CloseError{Code: CloseNormal})))
	assert.Equal(t, CloseAbnormal, CloseCode(errors.New("connection reset")))
}

func TestMessage_UnmarshalReadAt(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"sender_id":2,"receiver_id":3,"content":"x","timestamp":"2024-03-01T10:00:00Z","is_read":true,"read_at":"2024-03-01T10:01:00"}`), &msg))
	require.NotNil(t, msg.ReadAt)
	assert.Equal(t, 1, msg.ReadAt.Minute())

	var unread Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"timestamp":"2024-03-01T10:00:00Z","read_at":null}`), &unread))
	assert.Nil(t, unread.ReadAt)
}
