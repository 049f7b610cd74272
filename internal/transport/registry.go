package transport

import (
	"slices"
	"sync"
)

// MessageHandler receives decoded inbound envelopes.
type MessageHandler func(Envelope)

// LinkListener receives link state changes.
type LinkListener func(LinkEvent)

// LinkState is the health of the push link.
type LinkState string

const (
	LinkConnected    LinkState = "CONNECTED"
	LinkDisconnected LinkState = "DISCONNECTED"
)

// LinkEvent reports a link state change.
type LinkEvent struct {
	State  LinkState
	Reason string
}

// Registry holds at most one subscriber per key. Registering under an
// existing key replaces the previous subscriber.
type Registry[T any] struct {
	mu    sync.RWMutex
	slots map[string]T
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{slots: make(map[string]T)}
}

// Register installs fn under key and reports whether it replaced a previous one.
func (r *Registry[T]) Register(key string, fn T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.slots[key]
	r.slots[key] = fn
	return replaced
}

// Unregister removes the subscriber under key.
func (r *Registry[T]) Unregister(key string) {
	r.mu.Lock()
	delete(r.slots, key)
	r.mu.Unlock()
}

// Len returns the number of registered subscribers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Snapshot returns the current subscribers ordered by key.
func (r *Registry[T]) Snapshot() []T {
	r.mu.RLock()
	keys := make([]string, 0, len(r.slots))
	for k := range r.slots {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.slots[k])
	}
	r.mu.RUnlock()
	return out
}
