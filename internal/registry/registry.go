// Package registry tracks cancellable in-flight operations.
//
// DESIGN: One handle per (conversation index, message id) pair. The registry is
// a flat map, not a queue: there are no ordering guarantees across keys.
// A Registry is an explicit instance owned by the session manager and passed to
// whoever needs cancellation; there is no package-level registry.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Key identifies an in-flight operation.
type Key struct {
	Conversation int
	Message      int64
}

// String renders the key as "<conversation>,<message>".
func (k Key) String() string {
	return fmt.Sprintf("%d,%d", k.Conversation, k.Message)
}

// Handle is an abortable in-flight operation. Cancel is idempotent.
type Handle struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// NewHandle wraps a cancel function.
func NewHandle(cancel context.CancelFunc) *Handle {
	return &Handle{cancel: cancel, done: make(chan struct{})}
}

// WithCancel derives a cancellable context and returns it with its handle.
func WithCancel(parent context.Context) (context.Context, *Handle) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, NewHandle(cancel)
}

// Cancel requests cancellation. Safe to call more than once.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		close(h.done)
	})
}

// Cancelled is closed once Cancel has been called.
func (h *Handle) Cancelled() <-chan struct{} {
	return h.done
}

// Registry maps keys to handles.
type Registry struct {
	handles map[Key]*Handle
	mu      sync.Mutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handles: make(map[Key]*Handle)}
}

// Add stores h under (conversation, message), replacing any previous entry.
// Stopping the previous handle is the caller's responsibility.
func (r *Registry) Add(conversation int, message int64, h *Handle) Key {
	key := Key{Conversation: conversation, Message: message}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[key]; exists {
		log.Debug().Str("key", key.String()).Msg("registry: replacing handle")
	}
	r.handles[key] = h
	return key
}

// Get returns the handle stored under the key.
func (r *Registry) Get(conversation int, message int64) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[Key{Conversation: conversation, Message: message}]
	return h, ok
}

// Stop cancels the handle stored under the key. No-op if absent.
func (r *Registry) Stop(conversation int, message int64) {
	r.mu.Lock()
	h, ok := r.handles[Key{Conversation: conversation, Message: message}]
	r.mu.Unlock()

	if ok {
		h.Cancel()
	}
}

// StopAll cancels every registered handle.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Remove deletes the entry for the key. Safe whether or not it exists.
func (r *Registry) Remove(conversation int, message int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, Key{Conversation: conversation, Message: message})
}

// RemoveIf deletes the entry only if it still holds h.
// Lets a finished stream clean up without evicting a newer handle for the same key.
func (r *Registry) RemoveIf(key Key, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[key]; ok && cur == h {
		delete(r.handles, key)
	}
}

// HasPending reports whether at least one handle is registered.
func (r *Registry) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles) > 0
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
