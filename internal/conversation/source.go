package conversation

import (
	"fmt"
	"sync"
	"time"
)

// Source is the current-conversation accessor.
// The surrounding application owns storage; the core only reads snapshots and
// applies small in-place mutations through Update.
type Source interface {
	// Get returns a snapshot of the conversation at index.
	Get(index int) (Conversation, bool)

	// Update mutates the conversation at index under the source's lock.
	Update(index int, fn func(*Conversation)) error
}

// Notifier is the "show error" sink of the UI layer.
type Notifier interface {
	// ShowError surfaces a retryable failure on a message.
	ShowError(conversation int, messageID int64, err error)

	// PromptCredentials asks the user for a credential after a 401.
	PromptCredentials(conversation int)
}

// MemorySource is an in-memory Source used by the CLI, the server and tests.
type MemorySource struct {
	conversations []*Conversation
	mu            sync.RWMutex
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Create appends a new conversation and returns its index.
func (s *MemorySource) Create(topic string, cfg ModelConfig, context ...Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.conversations)
	conv := &Conversation{
		Index:  idx,
		Topic:  topic,
		Config: cfg,
	}
	for i, m := range context {
		if m.ID == 0 {
			m.ID = int64(i + 1)
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		conv.Context = append(conv.Context, m)
	}
	s.conversations = append(s.conversations, conv)
	return idx
}

// Get returns a snapshot of the conversation at index.
func (s *MemorySource) Get(index int) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.conversations) {
		return Conversation{}, false
	}
	return s.conversations[index].Snapshot(), true
}

// Update mutates the conversation at index.
func (s *MemorySource) Update(index int, fn func(*Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.conversations) {
		return fmt.Errorf("conversation not found: %d", index)
	}
	fn(s.conversations[index])
	return nil
}

// Len returns the number of conversations.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

var _ Source = (*MemorySource)(nil)
