package testutil

import (
	"context"
	"sync"
	"time"

	"classchat/pkg/types"
)

// SendCall records one REST send
type SendCall struct {
	ReceiverID int64
	Content    string
}

// FakeMessageAPI is an in-memory interfaces.MessageAPI
type FakeMessageAPI struct {
	mu            sync.Mutex
	history       map[int64][]types.Message
	conversations []types.Conversation
	holds         map[int64]chan struct{}
	historyCalls  []int64
	sends         []SendCall
	nextID        int64
	token         string
	unread        int

	SelfID     int64
	HistoryErr error
	SendErr    error
}

func NewFakeMessageAPI(selfID int64) *FakeMessageAPI {
	return &FakeMessageAPI{
		SelfID:  selfID,
		history: make(map[int64][]types.Message),
		holds:   make(map[int64]chan struct{}),
		nextID:  1000,
	}
}

// SetHistory replaces the stored history with partnerID
func (f *FakeMessageAPI) SetHistory(partnerID int64, messages ...types.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[partnerID] = append([]types.Message(nil), messages...)
}

func (f *FakeMessageAPI) SetConversations(conversations ...types.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = conversations
}

// HoldHistory blocks history fetches for partnerID until release is called
func (f *FakeMessageAPI) HoldHistory(partnerID int64) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	gate := make(chan struct{})
	f.holds[partnerID] = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.holds, partnerID)
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *FakeMessageAPI) ConversationHistory(ctx context.Context, partnerID int64) ([]types.Message, error) {
	f.mu.Lock()
	f.historyCalls = append(f.historyCalls, partnerID)
	gate := f.holds[partnerID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	return append([]types.Message(nil), f.history[partnerID]...), nil
}

func (f *FakeMessageAPI) SendMessage(ctx context.Context, receiverID int64, content string) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sends = append(f.sends, SendCall{ReceiverID: receiverID, Content: content})
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	f.nextID++
	msg := types.Message{
		ID:         f.nextID,
		SenderID:   f.SelfID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.history[receiverID] = append(f.history[receiverID], msg)
	return &msg, nil
}

func (f *FakeMessageAPI) Conversations(ctx context.Context) ([]types.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	return append([]types.Conversation(nil), f.conversations...), nil
}

func (f *FakeMessageAPI) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HistoryErr != nil {
		return 0, f.HistoryErr
	}
	return f.unread, nil
}

func (f *FakeMessageAPI) SetUnreadCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread = n
}

// SetToken records the bearer token the way the REST client would use it
func (f *FakeMessageAPI) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *FakeMessageAPI) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *FakeMessageAPI) HistoryCalls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.historyCalls...)
}

func (f *FakeMessageAPI) Sends() []SendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SendCall(nil), f.sends...)
}
