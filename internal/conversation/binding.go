// Package conversation binds one open conversation to REST history, live
// socket events and the user's input.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"classchat/internal/hub"
	"classchat/internal/metrics"
	"classchat/internal/router"
	"classchat/pkg/interfaces"
	"classchat/pkg/log"
	"classchat/pkg/types"
)

// Router is the part of the message router the binding uses
type Router interface {
	IsConnected() bool
	IsTyping(userID int64) bool
	IsOnline(userID int64) bool
	SendMessage(receiverID int64, content, clientRef string) error
	SendTyping(toUserID int64, isTyping bool) error
	MarkRead(messageIDs []int64, senderID int64) error
	RequestOnlineStatus(userIDs []int64) error
	SubscribeEvents(fn func(types.InboundEvent)) func()
	SubscribePresence(fn func(router.Presence)) func()
}

// Status is the load state of the open conversation
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// View is a copy of the binding state handed to renderers
type View struct {
	PartnerID     int64
	Status        Status
	Messages      []types.Message
	Input         string
	Sending       bool // REST fallback send in flight
	PartnerTyping bool
	PartnerOnline bool
	Err           error // Last fetch or send failure, cleared on the next selection
}

// Options configures a Binding
type Options struct {
	SelfID         int64
	TypingIdle     time.Duration // Idle time before an outbound typing stop
	RequestTimeout time.Duration // Bound on REST history fetches and fallback sends
}

// DefaultOptions returns a 2s typing idle and a 10s REST bound
func DefaultOptions() Options {
	return Options{
		TypingIdle:     2 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Binding is the state machine behind one open conversation
// ARCHITECTURAL DISCOVERY: Fetch results are applied only if fetchGen still
// matches the generation captured when the fetch started. Selecting another
// partner bumps fetchGen, so a late response for the old partner is dropped
// without needing to abort the request.
type Binding struct {
	opts   Options
	router Router
	api    interfaces.MessageAPI
	clock  interfaces.Clock
	log    zerolog.Logger
	views  *hub.Hub[View]

	unsubscribe []func()

	mu            sync.Mutex
	partnerID     int64
	status        Status
	messages      []types.Message
	input         string
	sending       bool
	partnerTyping bool
	partnerOnline bool
	err           error
	fetchGen      uint64
	typingTimer   interfaces.Timer
	typingGen     uint64
	closed        bool
}

// NewBinding creates a binding with no conversation selected and subscribes it to r
func NewBinding(opts Options, r Router, api interfaces.MessageAPI, clock interfaces.Clock) *Binding {
	d := DefaultOptions()
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = d.TypingIdle
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = d.RequestTimeout
	}
	logger := log.WithComponent("conversation")
	b := &Binding{
		opts:   opts,
		router: r,
		api:    api,
		clock:  clock,
		log:    logger,
		views:  hub.New[View]("conversation-view", logger),
	}
	b.unsubscribe = append(b.unsubscribe,
		r.SubscribeEvents(b.handleEvent),
		r.SubscribePresence(b.handlePresence),
	)
	return b
}

// SubscribeView registers fn for every view change
func (b *Binding) SubscribeView(fn func(View)) func() {
	return b.views.Subscribe(fn)
}

// State returns a copy of the current view
func (b *Binding) State() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewLocked()
}

func (b *Binding) viewLocked() View {
	return View{
		PartnerID:     b.partnerID,
		Status:        b.status,
		Messages:      append([]types.Message(nil), b.messages...),
		Input:         b.input,
		Sending:       b.sending,
		PartnerTyping: b.partnerTyping,
		PartnerOnline: b.partnerOnline,
		Err:           b.err,
	}
}

func (b *Binding) publishLocked() {
	b.views.Enqueue(b.viewLocked())
}

// Select opens the conversation with partnerID: the message list is cleared,
// history is fetched, and unread messages from the partner are marked read.
// A fetch overtaken by another Select is discarded.
func (b *Binding) Select(ctx context.Context, partnerID int64) error {
	if !types.IsValidUserID(partnerID) {
		return types.ErrInvalidUserID
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBindingClosed
	}
	previous := b.partnerID
	stopTyping := b.cancelTypingLocked()

	b.partnerID = partnerID
	b.fetchGen++
	gen := b.fetchGen
	b.messages = nil
	b.status = StatusLoading
	b.sending = false
	b.err = nil
	b.partnerTyping = b.router.IsTyping(partnerID)
	b.partnerOnline = b.router.IsOnline(partnerID)
	b.publishLocked()
	b.mu.Unlock()
	b.views.Flush()

	if stopTyping && previous != 0 {
		_ = b.router.SendTyping(previous, false)
	}
	if b.router.IsConnected() {
		if err := b.router.RequestOnlineStatus([]int64{partnerID}); err != nil {
			b.log.Debug().Err(err).Int64("partner_id", partnerID).Msg("Online status request not sent")
		}
	}

	return b.load(ctx, gen, partnerID)
}

// Refresh refetches the current conversation's history. Optimistic messages
// still waiting for the server are kept after the fetched history.
func (b *Binding) Refresh(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBindingClosed
	}
	if b.partnerID == 0 {
		b.mu.Unlock()
		return ErrNoConversation
	}
	b.fetchGen++
	gen, partnerID := b.fetchGen, b.partnerID
	b.mu.Unlock()

	return b.load(ctx, gen, partnerID)
}

func (b *Binding) load(ctx context.Context, gen uint64, partnerID int64) error {
	logger := b.log.With().Int64("partner_id", partnerID).Logger()

	ctx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	history, err := b.api.ConversationHistory(ctx, partnerID)
	metrics.HistoryFetchDuration.Observe(time.Since(start).Seconds())

	b.mu.Lock()
	if b.closed || gen != b.fetchGen {
		b.mu.Unlock()
		logger.Debug().Msg("Discarding stale history fetch")
		return nil
	}

	if err != nil {
		// Prior list and any live deltas stay as they are
		b.status = StatusReady
		b.err = err
		b.publishLocked()
		b.mu.Unlock()
		b.views.Flush()

		logger.Error().Err(err).Msg("History fetch failed")
		return fmt.Errorf("fetch history: %w", err)
	}

	pending := b.unconfirmedLocked(history)
	b.messages = append(append(make([]types.Message, 0, len(history)+len(pending)), history...), pending...)
	b.status = StatusReady

	var unread []int64
	for _, msg := range history {
		if msg.SenderID == partnerID && !msg.IsRead {
			unread = append(unread, msg.ID)
		}
	}
	b.publishLocked()
	b.mu.Unlock()
	b.views.Flush()

	logger.Debug().Int("messages", len(history)).Int("unread", len(unread)).Msg("History loaded")
	if len(unread) > 0 && b.router.IsConnected() {
		if err := b.router.MarkRead(unread, partnerID); err != nil {
			logger.Debug().Err(err).Msg("Mark read not sent")
		}
	}
	return nil
}

// unconfirmedLocked returns the optimistic messages that history does not
// already contain. A self-sent history message the list did not know before
// confirms one optimistic message: by client_ref when echoed, otherwise the
// oldest one with the same receiver and content.
func (b *Binding) unconfirmedLocked(history []types.Message) []types.Message {
	known := make(map[int64]struct{}, len(b.messages))
	var pending []types.Message
	for _, msg := range b.messages {
		if msg.IsSending && msg.ID == 0 {
			pending = append(pending, msg)
		} else if msg.ID != 0 {
			known[msg.ID] = struct{}{}
		}
	}

	for _, msg := range history {
		if len(pending) == 0 {
			break
		}
		if msg.SenderID != b.opts.SelfID {
			continue
		}
		if _, ok := known[msg.ID]; ok {
			continue
		}
		match := -1
		for i, p := range pending {
			if msg.ClientRef != "" {
				if p.ClientRef == msg.ClientRef {
					match = i
					break
				}
				continue
			}
			if p.ReceiverID == msg.ReceiverID && p.Content == msg.Content {
				match = i
				break
			}
		}
		if match >= 0 {
			pending = slices.Delete(pending, match, match+1)
		}
	}
	return pending
}

func (b *Binding) handleEvent(ev types.InboundEvent) {
	switch e := ev.(type) {
	case types.NewMessageEvent:
		b.handleNewMessage(e.Message)
	case types.MessageSentEvent:
		b.handleMessageSent(e)
	case types.MessagesReadEvent:
		b.handleMessagesRead(e)
	}
}

func (b *Binding) handleNewMessage(msg types.Message) {
	b.mu.Lock()
	partnerID := b.partnerID
	if b.closed || partnerID == 0 || (msg.SenderID != partnerID && msg.ReceiverID != partnerID) {
		b.mu.Unlock()
		return
	}
	if b.indexOfIDLocked(msg.ID) >= 0 {
		b.mu.Unlock()
		return
	}

	msg.IsSending = false
	replaced := false
	if msg.SenderID == b.opts.SelfID {
		// Own echo replaces its optimistic copy in place
		if i := b.matchOptimisticLocked(msg.ClientRef, msg.ReceiverID, msg.Content); i >= 0 {
			b.messages[i] = msg
			replaced = true
		}
	}
	if !replaced {
		b.messages = append(b.messages, msg)
	}
	b.publishLocked()
	b.mu.Unlock()
	b.views.Flush()

	if msg.SenderID == partnerID && b.router.IsConnected() {
		if err := b.router.MarkRead([]int64{msg.ID}, partnerID); err != nil {
			b.log.Debug().Err(err).Int64("message_id", msg.ID).Msg("Mark read not sent")
		}
	}
}

func (b *Binding) handleMessageSent(ack types.MessageSentEvent) {
	b.mu.Lock()
	defer func() {
		b.mu.Unlock()
		b.views.Flush()
	}()

	if b.closed || b.partnerID == 0 || b.indexOfIDLocked(ack.MessageID) >= 0 {
		return
	}
	if ack.ClientRef == "" && ack.ReceiverID != b.partnerID {
		return
	}
	i := b.matchOptimisticLocked(ack.ClientRef, ack.ReceiverID, "")
	if i < 0 {
		return
	}
	b.messages[i].ID = ack.MessageID
	b.messages[i].IsSending = false
	b.publishLocked()
}

// matchOptimisticLocked finds the optimistic message a server event confirms:
// the one carrying clientRef when set, otherwise the oldest still-sending
// message to receiverID (with the same content when content is non-empty).
func (b *Binding) matchOptimisticLocked(clientRef string, receiverID int64, content string) int {
	if clientRef != "" {
		for i, msg := range b.messages {
			if msg.IsSending && msg.ClientRef == clientRef {
				return i
			}
		}
		return -1
	}
	for i, msg := range b.messages {
		if !msg.IsSending || msg.ReceiverID != receiverID {
			continue
		}
		if content != "" && msg.Content != content {
			continue
		}
		return i
	}
	return -1
}

func (b *Binding) handleMessagesRead(ev types.MessagesReadEvent) {
	b.mu.Lock()
	if b.closed || b.partnerID == 0 || ev.ReadBy != b.partnerID {
		b.mu.Unlock()
		return
	}

	ids := make(map[int64]struct{}, len(ev.MessageIDs))
	for _, id := range ev.MessageIDs {
		ids[id] = struct{}{}
	}
	changed := false
	for i := range b.messages {
		msg := &b.messages[i]
		if _, ok := ids[msg.ID]; !ok || msg.ID == 0 {
			continue
		}
		if msg.IsRead && msg.ReadAt != nil && msg.ReadAt.Equal(ev.ReadAt) {
			continue
		}
		readAt := ev.ReadAt
		msg.IsRead = true
		msg.ReadAt = &readAt
		changed = true
	}
	if changed {
		b.publishLocked()
	}
	b.mu.Unlock()
	b.views.Flush()
}

func (b *Binding) handlePresence(p router.Presence) {
	b.mu.Lock()
	if b.closed || b.partnerID == 0 {
		b.mu.Unlock()
		return
	}
	typing := slices.Contains(p.TypingUsers, b.partnerID)
	online := slices.Contains(p.OnlineUsers, b.partnerID)
	if typing != b.partnerTyping || online != b.partnerOnline {
		b.partnerTyping = typing
		b.partnerOnline = online
		b.publishLocked()
	}
	b.mu.Unlock()
	b.views.Flush()
}

// SetInput records the composer text. Non-empty input emits a typing frame
// and restarts the idle timer that later emits the typing stop.
func (b *Binding) SetInput(text string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.input = text
	partnerID := b.partnerID
	stopTyping := b.cancelTypingLocked()

	typing := partnerID != 0 && text != ""
	if typing {
		gen := b.typingGen
		b.typingTimer = b.clock.AfterFunc(b.opts.TypingIdle, func() { b.typingIdle(gen) })
	}
	b.publishLocked()
	b.mu.Unlock()
	b.views.Flush()

	switch {
	case typing && b.router.IsConnected():
		// Rate-limited keystrokes are simply not forwarded
		_ = b.router.SendTyping(partnerID, true)
	case !typing && stopTyping && partnerID != 0:
		_ = b.router.SendTyping(partnerID, false)
	}
}

// cancelTypingLocked stops the idle timer and reports whether one was pending
func (b *Binding) cancelTypingLocked() bool {
	b.typingGen++
	if b.typingTimer == nil {
		return false
	}
	b.typingTimer.Stop()
	b.typingTimer = nil
	return true
}

func (b *Binding) typingIdle(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.typingGen || b.partnerID == 0 {
		b.mu.Unlock()
		return
	}
	b.typingTimer = nil
	partnerID := b.partnerID
	b.mu.Unlock()

	_ = b.router.SendTyping(partnerID, false)
}

// Send sends the current input to the partner. While connected the message
// is appended optimistically and the call returns without waiting for the
// server. Otherwise one REST send is attempted; on success history is
// refetched, on failure the input is restored and the error returned.
func (b *Binding) Send(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBindingClosed
	}
	partnerID := b.partnerID
	if partnerID == 0 {
		b.mu.Unlock()
		return ErrNoConversation
	}
	content := b.input
	if err := (types.SendMessage{ReceiverID: partnerID, Content: content}).Validate(); err != nil {
		b.mu.Unlock()
		return err
	}

	b.input = ""
	b.cancelTypingLocked()
	b.err = nil

	connected := b.router.IsConnected()
	var clientRef string
	if connected {
		clientRef = uuid.NewString()
		b.messages = append(b.messages, types.Message{
			SenderID:   b.opts.SelfID,
			ReceiverID: partnerID,
			Content:    content,
			Timestamp:  b.clock.Now(),
			ClientRef:  clientRef,
			IsSending:  true,
		})
	}
	b.publishLocked()
	b.mu.Unlock()
	b.views.Flush()

	_ = b.router.SendTyping(partnerID, false)

	if connected {
		err := b.router.SendMessage(partnerID, content, clientRef)
		if err == nil {
			return nil
		}
		b.dropOptimistic(clientRef)
		if !errors.Is(err, types.ErrNotConnected) {
			b.restoreInput(partnerID, content, err)
			return err
		}
		b.log.Info().Int64("partner_id", partnerID).Msg("Socket closed during send, falling back to REST")
	}

	return b.sendFallback(ctx, partnerID, content)
}

func (b *Binding) sendFallback(ctx context.Context, partnerID int64, content string) error {
	logger := b.log.With().Int64("partner_id", partnerID).Logger()

	b.mu.Lock()
	b.sending = true
	b.publishLocked()
	b.mu.Unlock()
	b.views.Flush()

	sendCtx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()
	_, err := b.api.SendMessage(sendCtx, partnerID, content)

	b.mu.Lock()
	b.sending = false
	b.mu.Unlock()

	if err != nil {
		metrics.FallbackSendsTotal.WithLabelValues("failure").Inc()
		logger.Error().Err(err).Msg("REST fallback send failed")
		b.restoreInput(partnerID, content, err)
		return fmt.Errorf("send message: %w", err)
	}

	metrics.FallbackSendsTotal.WithLabelValues("success").Inc()
	logger.Info().Msg("Message sent through REST fallback")

	b.mu.Lock()
	current := !b.closed && b.partnerID == partnerID
	if !current {
		b.publishLocked()
	}
	b.mu.Unlock()
	if !current {
		b.views.Flush()
		return nil
	}

	if err := b.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("Refetch after fallback send failed")
	}
	return nil
}

// restoreInput puts content back into an empty composer and records err
func (b *Binding) restoreInput(partnerID int64, content string, err error) {
	b.mu.Lock()
	if b.partnerID == partnerID {
		if b.input == "" {
			b.input = content
		}
		b.err = err
	}
	b.publishLocked()
	b.mu.Unlock()
	b.views.Flush()
}

func (b *Binding) dropOptimistic(clientRef string) {
	b.mu.Lock()
	for i, msg := range b.messages {
		if msg.IsSending && msg.ClientRef == clientRef {
			b.messages = append(b.messages[:i], b.messages[i+1:]...)
			b.publishLocked()
			break
		}
	}
	b.mu.Unlock()
	b.views.Flush()
}

func (b *Binding) indexOfIDLocked(id int64) int {
	if id == 0 {
		return -1
	}
	for i, msg := range b.messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// Close unsubscribes from the router and cancels timers. In-flight fetches
// are ignored when they return.
func (b *Binding) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.cancelTypingLocked()
	b.fetchGen++
	b.mu.Unlock()

	for _, unsubscribe := range b.unsubscribe {
		unsubscribe()
	}
}
