// Package state provides a minimal observable value holder. It replaces a
// reactive-framework subscription model with an explicit subscribe/notify
// primitive, decoupling state mutation from rendering.
package state

import "sync"

// Holder owns a single value of type T and notifies subscribers on every
// replacement. Values are replaced wholesale; subscribers never observe a
// partially updated value.
type Holder[T any] struct {
	mu     sync.RWMutex
	value  T
	set    bool
	subs   map[int]chan T
	nextID int
}

// NewHolder creates an empty holder.
func NewHolder[T any]() *Holder[T] {
	return &Holder[T]{subs: make(map[int]chan T)}
}

// Get returns the current value. The second return value is false until the
// first Set.
func (h *Holder[T]) Get() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value, h.set
}

// Set replaces the value and notifies all subscribers. Delivery is
// non-blocking: a subscriber whose buffer is full misses the intermediate
// value and picks up a later one.
func (h *Holder[T]) Set(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.value = v
	h.set = true
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe registers a listener with the given buffer size and returns its
// channel plus a cancel function. Cancel closes the channel and removes the
// subscription.
func (h *Holder[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

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

// Subscribers returns the number of active subscriptions.
func (h *Holder[T]) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
