package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classchat/internal/conversation"
	"classchat/internal/session"
	"classchat/internal/testutil"
	"classchat/pkg/types"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"chat", "conversations", "broadcast", "online", "version"}, names)
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "classchat version dev")
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("CLASSCHAT_BASE_URL", "https://env.school.test")
	t.Setenv("CLASSCHAT_TOKEN", "env-token")

	root := newRootCmd()
	chat, _, err := root.Find([]string{"chat"})
	require.NoError(t, err)
	require.NoError(t, chat.ParseFlags([]string{"--base-url", "https://flag.school.test", "--user-id", "9"}))

	cfg, err := loadConfig(chat)
	require.NoError(t, err)
	assert.Equal(t, "https://flag.school.test", cfg.Server.BaseURL)
	assert.Equal(t, int64(9), cfg.Auth.UserID)
	assert.Equal(t, "env-token", cfg.Auth.Token)

	require.NoError(t, chat.ParseFlags([]string{"--log-level", "loud"}))
	_, err = loadConfig(chat)
	assert.Error(t, err)
}

func TestParseUserIDs(t *testing.T) {
	ids, err := parseUserIDs([]string{"3", "12"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 12}, ids)

	for _, bad := range []string{"0", "-4", "ana"} {
		_, err := parseUserIDs([]string{bad})
		assert.ErrorIs(t, err, types.ErrInvalidUserID, bad)
	}
}

func TestRenderer_SanitizesContent(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, 7)

	r.announcement(types.AnnouncementEvent{Content: "<b>Exams</b> start <script>alert(1)</script>\x1b[2J Monday & Tuesday"})

	line := out.String()
	assert.Contains(t, line, "Exams start")
	assert.Contains(t, line, "Monday & Tuesday")
	assert.NotContains(t, line, "<b>")
	assert.NotContains(t, line, "alert")
	assert.NotContains(t, line, "\x1b")
}

func TestRenderer_PrintsOnlyNewMessages(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, 7)

	first := types.Message{ID: 1, SenderID: 3, ReceiverID: 7, Content: "hi"}
	pending := types.Message{SenderID: 7, ReceiverID: 3, Content: "hello", ClientRef: "ref-1", IsSending: true}

	r.view(conversation.View{PartnerID: 3, Messages: []types.Message{first}})
	r.view(conversation.View{PartnerID: 3, Messages: []types.Message{first, pending}})

	confirmed := pending
	confirmed.ID, confirmed.IsSending = 2, false
	r.view(conversation.View{PartnerID: 3, Messages: []types.Message{first, confirmed}, PartnerTyping: true})

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "user 3: hi"))
	assert.Equal(t, 1, strings.Count(text, "you: hello"))
	assert.Contains(t, text, "(sending)")
	assert.Contains(t, text, "user 3 is typing")
	assert.Equal(t, 1, strings.Count(text, "== conversation with user 3 =="))
}

func TestRenderer_StateLines(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, 7)

	r.state(types.StateEvent{New: types.StateOpen})
	r.state(types.StateEvent{New: types.StateClosed, CloseCode: types.CloseAbnormal})
	r.state(types.StateEvent{New: types.StateReconnecting, Attempt: 1, Delay: time.Second})
	r.state(types.StateEvent{New: types.StateClosed, CloseCode: types.CloseAuthRejected})
	r.state(types.StateEvent{New: types.StateClosed, CloseCode: types.CloseNormal})

	assert.Equal(t, "-- connected\n"+
		"-- disconnected (code 1006)\n"+
		"-- reconnect attempt 1 in 1s\n"+
		"-- credentials rejected, log in again\n", out.String())
}

func TestPrintConversations(t *testing.T) {
	var out bytes.Buffer
	classID := int64(1)
	require.NoError(t, printConversations(&out, []types.Conversation{
		{ID: 3, Username: "ana", FullName: "Ana Lima", ClassID: &classID, ClassName: "10", SectionName: "A", UnreadCount: 2},
		{ID: 5, Username: "bo"},
	}, 2))

	text := out.String()
	assert.Contains(t, text, "Ana Lima")
	assert.Contains(t, text, "10 A")
	assert.Contains(t, text, "2 unread message(s)")

	out.Reset()
	require.NoError(t, printConversations(&out, nil, 0))
	assert.Equal(t, "No conversations\n", out.String())
}

func TestChatLoop_SendsLines(t *testing.T) {
	dialer := testutil.NewFakeDialer()
	api := testutil.NewFakeMessageAPI(7)
	clock := testutil.NewFakeClock()
	ctl := session.NewController(session.DefaultOptions(), dialer, api, clock)
	t.Cleanup(func() { _ = ctl.Close() })

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 7}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = ctl.Login(context.Background(), token, 0)
	require.NoError(t, err)

	b, err := ctl.OpenConversation(context.Background(), 3)
	require.NoError(t, err)

	var out bytes.Buffer
	in := strings.NewReader("hello there\n\n/quit\nnever sent\n")
	require.NoError(t, chatLoop(context.Background(), in, &out, ctl, b))

	frames := dialer.LastSocket().FramesOfType("message")
	require.Len(t, frames, 1)
	assert.Equal(t, "hello there", frames[0]["content"])
	assert.Len(t, b.State().Messages, 1)
}
