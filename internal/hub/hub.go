package hub

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub fans values out to subscribers in the order they were enqueued
// ARCHITECTURAL DISCOVERY: Publishers enqueue while holding their own lock and
// flush after releasing it, so delivery order always matches mutation order
// even when several goroutines publish at once.
//
// Subscribers run synchronously on the goroutine that flushes. A subscriber may
// call back into the publisher; values it causes to be enqueued are delivered
// after the current one by the flush already in progress.
//
// Delivery is synchronous only for the goroutine that wins the flush. A caller
// whose Flush finds another goroutine flushing returns at once, and its values
// reach subscribers on that goroutine, possibly after the caller has returned.
// Code that must observe a transition should subscribe to it rather than rely
// on the publishing call having delivered it.
type Hub[T any] struct {
	name string
	log  zerolog.Logger

	mu          sync.Mutex
	subscribers []subscriber[T]
	nextID      uint64
	pending     []T
	flushing    bool
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// New creates a hub; name appears in logs when a subscriber panics
func New[T any](name string, logger zerolog.Logger) *Hub[T] {
	return &Hub[T]{
		name: name,
		log:  logger,
	}
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is idempotent.
func (h *Hub[T]) Subscribe(fn func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.subscribers = append(h.subscribers, subscriber[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(id) })
	}
}

func (h *Hub[T]) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subscribers {
		if sub.id == id {
			h.subscribers = append(h.subscribers[:i:i], h.subscribers[i+1:]...)
			return
		}
	}
}

// Enqueue records v for delivery without running subscribers.
// Call Flush once the caller's own locks are released.
func (h *Hub[T]) Enqueue(v T) {
	h.mu.Lock()
	h.pending = append(h.pending, v)
	h.mu.Unlock()
}

// Flush delivers every pending value. If another goroutine (or an outer call
// on this goroutine) is already flushing, Flush returns immediately without
// waiting; the flush in progress delivers the values. It must not wait, since
// subscribers may publish on the flushing goroutine.
func (h *Hub[T]) Flush() {
	h.mu.Lock()
	if h.flushing {
		h.mu.Unlock()
		return
	}
	h.flushing = true

	for len(h.pending) > 0 {
		v := h.pending[0]
		var zero T
		h.pending[0] = zero
		h.pending = h.pending[1:]
		subs := make([]subscriber[T], len(h.subscribers))
		copy(subs, h.subscribers)
		h.mu.Unlock()

		for _, sub := range subs {
			h.deliver(sub, v)
		}

		h.mu.Lock()
	}

	h.flushing = false
	h.mu.Unlock()
}

// Publish enqueues v and flushes
func (h *Hub[T]) Publish(v T) {
	h.Enqueue(v)
	h.Flush()
}

// SubscriberCount returns the number of registered subscribers
func (h *Hub[T]) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// deliver isolates subscriber panics so one broken view cannot stop the stream
func (h *Hub[T]) deliver(sub subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Str("hub", h.name).
				Uint64("subscriber", sub.id).
				Interface("panic", r).
				Msg("Subscriber panicked")
		}
	}()
	sub.fn(v)
}
