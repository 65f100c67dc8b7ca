package router

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classchat/internal/metrics"
	fakes "classchat/internal/testutil"
	"classchat/pkg/types"
)

func newTestRouter(connected bool) (*Router, *fakes.FakeTransport, *fakes.FakeClock) {
	transport := fakes.NewFakeTransport(connected)
	clock := fakes.NewFakeClock()
	return NewRouter(transport, clock, DefaultOptions()), transport, clock
}

// Inbound path

func TestRouter_TypingAutoExpiry(t *testing.T) {
	r, _, clock := newTestRouter(true)

	r.HandleFrame([]byte(`{"type":"typing","from_user_id":5,"is_typing":true}`))
	assert.True(t, r.IsTyping(5))

	clock.Advance(4999 * time.Millisecond)
	assert.True(t, r.IsTyping(5))

	clock.Advance(time.Millisecond)
	assert.False(t, r.IsTyping(5), "typing must clear 5s after the last true event")
	assert.Empty(t, r.TypingUsers())
}

func TestRouter_TypingRefreshReplacesTimer(t *testing.T) {
	r, _, clock := newTestRouter(true)

	r.HandleFrame([]byte(`{"type":"typing","from_user_id":5,"is_typing":true}`))
	clock.Advance(3 * time.Second)
	r.HandleFrame([]byte(`{"type":"typing","from_user_id":5,"is_typing":true}`))
	assert.Equal(t, 1, clock.PendingTimers(), "timers are debounced, not stacked")

	clock.Advance(3 * time.Second)
	assert.True(t, r.IsTyping(5), "refresh restarts the 5s window")

	clock.Advance(2 * time.Second)
	assert.False(t, r.IsTyping(5))
}

func TestRouter_TypingFalseClearsImmediately(t *testing.T) {
	r, _, clock := newTestRouter(true)

	r.HandleFrame([]byte(`{"type":"typing","from_user_id":5,"is_typing":true}`))
	r.HandleFrame([]byte(`{"type":"typing","from_user_id":5,"is_typing":false}`))

	assert.False(t, r.IsTyping(5))
	assert.Equal(t, 0, clock.PendingTimers())
}

func TestRouter_TypingPerUser(t *testing.T) {
	r, _, clock := newTestRouter(true)

	r.HandleFrame([]byte(`{"type":"typing","from_user_id":5,"is_typing":true}`))
	clock.Advance(2 * time.Second)
	r.HandleFrame([]byte(`{"type":"typing","from_user_id":6,"is_typing":true}`))
	assert.Equal(t, []int64{5, 6}, r.TypingUsers())

	clock.Advance(3 * time.Second)
	assert.Equal(t, []int64{6}, r.TypingUsers())
}

func TestRouter_OnlineSnapshotAndDeltas(t *testing.T) {
	r, _, _ := newTestRouter(true)

	r.HandleFrame([]byte(`{"type":"user_online","user_id":9}`))
	r.HandleFrame([]byte(`{"type":"online_status","status":{"3":true,"4":false,"5":true}}`))
	assert.Equal(t, []int64{3, 5}, r.OnlineUsers(), "snapshot replaces the set wholesale")

	r.HandleFrame([]byte(`{"type":"user_online","user_id":4}`))
	r.HandleFrame([]byte(`{"type":"user_offline","user_id":3}`))
	assert.Equal(t, []int64{4, 5}, r.OnlineUsers())
	assert.True(t, r.IsOnline(4))
	assert.False(t, r.IsOnline(3))
}

func TestRouter_MalformedFramesDropped(t *testing.T) {
	r, _, _ := newTestRouter(true)

	var events []types.InboundEvent
	r.SubscribeEvents(func(ev types.InboundEvent) { events = append(events, ev) })

	before := testutil.ToFloat64(metrics.FramesDroppedTotal.WithLabelValues("malformed"))
	beforeUnknown := testutil.ToFloat64(metrics.FramesDroppedTotal.WithLabelValues("unknown_type"))

	assert.NotPanics(t, func() {
		r.HandleFrame([]byte(`{not json`))
		r.HandleFrame([]byte(`{"type":"typing","from_user_id":"five"}`))
		r.HandleFrame([]byte(`{"type":"sticker"}`))
	})

	assert.Empty(t, events)
	assert.Nil(t, r.LastEvent())
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.FramesDroppedTotal.WithLabelValues("malformed")))
	assert.Equal(t, beforeUnknown+1, testutil.ToFloat64(metrics.FramesDroppedTotal.WithLabelValues("unknown_type")))
}

func TestRouter_ForwardsMessageEventsInOrder(t *testing.T) {
	r, _, _ := newTestRouter(true)

	var got []string
	r.SubscribeEvents(func(ev types.InboundEvent) { got = append(got, ev.EventType()) })

	r.HandleFrame([]byte(`{"type":"new_message","message":{"id":1,"sender_id":3,"receiver_id":7,"content":"a","timestamp":"2024-03-01T09:00:00"}}`))
	r.HandleFrame([]byte(`{"type":"message_sent","message_id":2,"receiver_id":3}`))
	r.HandleFrame([]byte(`{"type":"messages_read","read_by":3,"message_ids":[2],"read_at":"2024-03-01T09:01:00"}`))

	assert.Equal(t, []string{types.InboundNewMessage, types.InboundMessageSent, types.InboundMessagesRead}, got)
	assert.IsType(t, types.MessagesReadEvent{}, r.LastEvent())
}

func TestRouter_PresenceNotifications(t *testing.T) {
	r, _, clock := newTestRouter(true)

	var snapshots []Presence
	r.SubscribePresence(func(p Presence) { snapshots = append(snapshots, p) })

	r.HandleFrame([]byte(`{"type":"typing","from_user_id":5,"is_typing":true}`))
	r.HandleFrame([]byte(`{"type":"typing","from_user_id":5,"is_typing":true}`)) // no change
	r.HandleFrame([]byte(`{"type":"user_online","user_id":5}`))
	clock.Advance(5 * time.Second)

	require.Len(t, snapshots, 3)
	assert.Equal(t, []int64{5}, snapshots[0].TypingUsers)
	assert.Equal(t, []int64{5}, snapshots[1].OnlineUsers)
	assert.Empty(t, snapshots[2].TypingUsers)
}

func TestRouter_Reset(t *testing.T) {
	r, _, clock := newTestRouter(true)

	r.HandleFrame([]byte(`{"type":"typing","from_user_id":5,"is_typing":true}`))
	r.HandleFrame([]byte(`{"type":"user_online","user_id":5}`))
	r.Reset()

	assert.Empty(t, r.TypingUsers())
	assert.Empty(t, r.OnlineUsers())
	assert.Equal(t, 0, clock.PendingTimers())
}

// Outbound path

func TestRouter_OutboundRequiresConnection(t *testing.T) {
	r, transport, _ := newTestRouter(false)

	assert.ErrorIs(t, r.SendMessage(3, "hi", ""), types.ErrNotConnected)
	assert.ErrorIs(t, r.SendTyping(3, true), types.ErrNotConnected)
	assert.ErrorIs(t, r.MarkRead([]int64{1}, 3), types.ErrNotConnected)
	assert.ErrorIs(t, r.RequestOnlineStatus([]int64{3}), types.ErrNotConnected)
	assert.ErrorIs(t, r.Broadcast("hello", "", ""), types.ErrNotConnected)
	assert.Empty(t, transport.Frames())
}

func TestRouter_OutboundFrames(t *testing.T) {
	r, transport, _ := newTestRouter(true)

	require.NoError(t, r.SendMessage(3, "hi", "ref-1"))
	require.NoError(t, r.MarkRead([]int64{10, 11}, 3))
	require.NoError(t, r.Broadcast("exam moved", "10", "A"))

	frames := transport.Frames()
	require.Len(t, frames, 3)
	assert.Equal(t, "message", frames[0]["type"])
	assert.Equal(t, "ref-1", frames[0]["client_ref"])
	assert.Equal(t, "read", frames[1]["type"])
	assert.Equal(t, []interface{}{float64(10), float64(11)}, frames[1]["message_ids"])
	assert.Equal(t, "broadcast", frames[2]["type"])
	assert.Equal(t, "A", frames[2]["section_name"])
}

func TestRouter_OutboundValidation(t *testing.T) {
	r, transport, _ := newTestRouter(true)

	assert.ErrorIs(t, r.SendMessage(0, "hi", ""), types.ErrInvalidUserID)
	assert.ErrorIs(t, r.SendMessage(3, "  ", ""), types.ErrEmptyContent)
	assert.ErrorIs(t, r.MarkRead(nil, 3), types.ErrNoMessageIDs)
	assert.Empty(t, transport.Frames())
}

func TestRouter_TypingRateLimit(t *testing.T) {
	r, transport, clock := newTestRouter(true)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.SendTyping(3, true))
	}
	assert.ErrorIs(t, r.SendTyping(3, true), ErrRateLimited)
	assert.NoError(t, r.SendTyping(3, false), "stop frames are never limited")
	assert.NoError(t, r.SendTyping(4, true), "limits are per recipient")

	clock.Advance(200 * time.Millisecond)
	assert.NoError(t, r.SendTyping(3, true))

	assert.Len(t, transport.Frames(), 8)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(5, 5)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	limiter.Allow(1, now)
	limiter.Allow(2, now.Add(4*time.Minute))
	assert.Equal(t, 2, limiter.size())

	limiter.Cleanup(now.Add(6 * time.Minute))
	assert.Equal(t, 1, limiter.size())

	limiter.Reset()
	assert.Equal(t, 0, limiter.size())
}
