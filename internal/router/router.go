// Package router classifies inbound chat frames, owns the typing and presence
// state slices, and serializes outbound intents onto the socket.
package router

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classchat/internal/hub"
	"classchat/internal/metrics"
	"classchat/pkg/interfaces"
	"classchat/pkg/log"
	"classchat/pkg/types"
)

// Transport is the part of the connection manager the router writes through
type Transport interface {
	Send(v interface{}) error
	IsConnected() bool
}

// Options configures a Router
type Options struct {
	TypingExpiry time.Duration // Receiver-side auto-clear of a typing indicator
	TypingRate   float64       // Outbound typing frames per second per recipient
	TypingBurst  int
}

// DefaultOptions returns a 5s typing expiry and a 5/s typing limit
func DefaultOptions() Options {
	return Options{
		TypingExpiry: 5 * time.Second,
		TypingRate:   5,
		TypingBurst:  5,
	}
}

// Presence is a copy of the typing and online slices, both sorted ascending
type Presence struct {
	TypingUsers []int64
	OnlineUsers []int64
}

// Router implements the inbound and outbound halves of the chat protocol
// ARCHITECTURAL DISCOVERY: The router never owns message history. Message
// events are forwarded on the event stream and the conversation binding
// reconciles them; the router only owns TypingMap and OnlineUserSet.
type Router struct {
	transport   Transport
	clock       interfaces.Clock
	opts        Options
	rateLimiter *RateLimiter
	log         zerolog.Logger

	events   *hub.Hub[types.InboundEvent]
	presence *hub.Hub[Presence]

	mu           sync.Mutex
	typing       map[int64]bool
	typingTimers map[int64]interfaces.Timer
	typingGen    map[int64]uint64
	online       map[int64]struct{}
	lastEvent    types.InboundEvent
}

// NewRouter creates a router writing through transport
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with fake transports and clocks
func NewRouter(transport Transport, clock interfaces.Clock, opts Options) *Router {
	d := DefaultOptions()
	if opts.TypingExpiry <= 0 {
		opts.TypingExpiry = d.TypingExpiry
	}
	logger := log.WithComponent("router")
	return &Router{
		transport:    transport,
		clock:        clock,
		opts:         opts,
		rateLimiter:  NewRateLimiter(opts.TypingRate, opts.TypingBurst),
		log:          logger,
		events:       hub.New[types.InboundEvent]("router-events", logger),
		presence:     hub.New[Presence]("router-presence", logger),
		typing:       make(map[int64]bool),
		typingTimers: make(map[int64]interfaces.Timer),
		typingGen:    make(map[int64]uint64),
		online:       make(map[int64]struct{}),
	}
}

// SubscribeEvents registers fn for every successfully parsed inbound event
func (r *Router) SubscribeEvents(fn func(types.InboundEvent)) func() {
	return r.events.Subscribe(fn)
}

// SubscribePresence registers fn for every change of the typing or online slices
func (r *Router) SubscribePresence(fn func(Presence)) func() {
	return r.presence.Subscribe(fn)
}

// HandleFrame processes one raw inbound frame. Malformed and unknown frames
// are logged and dropped; nothing here returns an error to the socket.
func (r *Router) HandleFrame(data []byte) {
	ev, err := types.ParseInboundEvent(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, types.ErrUnknownFrameType) {
			reason = "unknown_type"
		}
		metrics.FramesDroppedTotal.WithLabelValues(reason).Inc()
		r.log.Warn().Err(err).Str("reason", reason).Int("bytes", len(data)).Msg("Dropping inbound frame")
		return
	}
	r.HandleEvent(ev)
}

// HandleEvent applies a parsed event to the state slices and publishes it
func (r *Router) HandleEvent(ev types.InboundEvent) {
	metrics.FramesReceivedTotal.WithLabelValues(ev.EventType()).Inc()

	r.mu.Lock()
	changed := false
	switch e := ev.(type) {
	case types.TypingEvent:
		changed = r.setTypingLocked(e.FromUserID, e.IsTyping)

	case types.OnlineStatusEvent:
		// Snapshot replaces the set wholesale
		next := make(map[int64]struct{}, len(e.Status))
		for userID, online := range e.Status {
			if online {
				next[userID] = struct{}{}
			}
		}
		changed = !sameSet(r.online, next)
		r.online = next

	case types.UserOnlineEvent:
		if _, ok := r.online[e.UserID]; !ok {
			r.online[e.UserID] = struct{}{}
			changed = true
		}

	case types.UserOfflineEvent:
		if _, ok := r.online[e.UserID]; ok {
			delete(r.online, e.UserID)
			changed = true
		}
	}

	r.lastEvent = ev
	r.events.Enqueue(ev)
	if changed {
		r.presence.Enqueue(r.snapshotLocked())
	}
	r.mu.Unlock()

	r.events.Flush()
	r.presence.Flush()
}

// setTypingLocked updates one typing entry. A true entry gets a fresh expiry
// timer that replaces any earlier one for the same user.
func (r *Router) setTypingLocked(userID int64, isTyping bool) bool {
	if timer, ok := r.typingTimers[userID]; ok {
		timer.Stop()
		delete(r.typingTimers, userID)
	}
	r.typingGen[userID]++

	if !isTyping {
		delete(r.typingGen, userID)
		if !r.typing[userID] {
			return false
		}
		delete(r.typing, userID)
		return true
	}

	gen := r.typingGen[userID]
	r.typingTimers[userID] = r.clock.AfterFunc(r.opts.TypingExpiry, func() {
		r.expireTyping(userID, gen)
	})
	if r.typing[userID] {
		return false
	}
	r.typing[userID] = true
	return true
}

func (r *Router) expireTyping(userID int64, gen uint64) {
	r.mu.Lock()
	if r.typingGen[userID] != gen || !r.typing[userID] {
		r.mu.Unlock()
		return
	}
	delete(r.typing, userID)
	delete(r.typingTimers, userID)
	delete(r.typingGen, userID)
	r.presence.Enqueue(r.snapshotLocked())
	r.mu.Unlock()

	r.log.Debug().Int64("user_id", userID).Msg("Typing indicator expired")
	r.presence.Flush()
}

func (r *Router) snapshotLocked() Presence {
	p := Presence{
		TypingUsers: make([]int64, 0, len(r.typing)),
		OnlineUsers: make([]int64, 0, len(r.online)),
	}
	for userID := range r.typing {
		p.TypingUsers = append(p.TypingUsers, userID)
	}
	for userID := range r.online {
		p.OnlineUsers = append(p.OnlineUsers, userID)
	}
	slices.Sort(p.TypingUsers)
	slices.Sort(p.OnlineUsers)
	return p
}

func (r *Router) IsTyping(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typing[userID]
}

func (r *Router) IsOnline(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.online[userID]
	return ok
}

// TypingUsers returns the users currently typing, ascending
func (r *Router) TypingUsers() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked().TypingUsers
}

// OnlineUsers returns the users currently online, ascending
func (r *Router) OnlineUsers() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked().OnlineUsers
}

// LastEvent returns the most recently received event, nil before the first
func (r *Router) LastEvent() types.InboundEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastEvent
}

// Reset discards the typing and presence slices and their timers
func (r *Router) Reset() {
	r.mu.Lock()
	for _, timer := range r.typingTimers {
		timer.Stop()
	}
	r.typing = make(map[int64]bool)
	r.typingTimers = make(map[int64]interfaces.Timer)
	r.typingGen = make(map[int64]uint64)
	r.online = make(map[int64]struct{})
	r.lastEvent = nil
	r.presence.Enqueue(r.snapshotLocked())
	r.mu.Unlock()

	r.rateLimiter.Reset()
	r.presence.Flush()
}

// IsConnected reports whether the transport can take frames right now
func (r *Router) IsConnected() bool {
	return r.transport != nil && r.transport.IsConnected()
}

// Dispatch validates intent and writes its frame. It returns
// types.ErrNotConnected when the socket is not open, so callers can fall back.
// Nothing is retried.
func (r *Router) Dispatch(intent types.OutboundIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}
	if r.transport == nil {
		return ErrNoTransport
	}
	if !r.transport.IsConnected() {
		return types.ErrNotConnected
	}
	if typing, ok := intent.(types.SendTyping); ok && typing.IsTyping {
		if !r.rateLimiter.Allow(typing.ToUserID, r.clock.Now()) {
			return ErrRateLimited
		}
	}

	if err := r.transport.Send(intent.Frame()); err != nil {
		r.log.Debug().Err(err).Str("type", intent.IntentType()).Msg("Outbound frame not sent")
		return err
	}
	metrics.FramesSentTotal.WithLabelValues(intent.IntentType()).Inc()
	return nil
}

// SendMessage sends content to receiverID. clientRef is echoed back in message_sent.
func (r *Router) SendMessage(receiverID int64, content, clientRef string) error {
	return r.Dispatch(types.SendMessage{ReceiverID: receiverID, Content: content, ClientRef: clientRef})
}

func (r *Router) SendTyping(toUserID int64, isTyping bool) error {
	return r.Dispatch(types.SendTyping{ToUserID: toUserID, IsTyping: isTyping})
}

func (r *Router) MarkRead(messageIDs []int64, senderID int64) error {
	return r.Dispatch(types.MarkRead{MessageIDs: messageIDs, SenderID: senderID})
}

func (r *Router) RequestOnlineStatus(userIDs []int64) error {
	return r.Dispatch(types.RequestOnlineStatus{UserIDs: userIDs})
}

// Broadcast sends an admin announcement; empty className/sectionName reach everyone.
// The server decides whether this user may broadcast.
func (r *Router) Broadcast(content, className, sectionName string) error {
	return r.Dispatch(types.Broadcast{Content: content, ClassName: className, SectionName: sectionName})
}

func sameSet(a, b map[int64]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
