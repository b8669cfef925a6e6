package notifications

import (
	"context"
	"sync"
)

// Hub distributes desk events to subscribers. Publish never blocks on
// a slow subscriber; late subscribers miss earlier events.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of future events plus a cancel func
	// that releases the subscription.
	Subscribe(ctx context.Context) (<-chan Event, func())
	Close() error
}

// MemoryHub is an in-process Hub for single-node deployments and tests.
type MemoryHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewMemoryHub creates an in-process hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[int]chan Event)}
}

// Publish fans the event out to every live subscriber. Subscribers
// with a full buffer drop the event rather than block the publisher.
func (h *MemoryHub) Publish(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered event channel.
func (h *MemoryHub) Subscribe(_ context.Context) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, 64)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close drops all subscribers.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return nil
}
