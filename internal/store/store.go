// Package store caches generated summaries.
//
// DESIGN: Summaries are expensive remote calls. A cached summary is keyed by
// conversation, message id and a hash of the message content, so an edited
// message never reuses a stale summary.
//
// Two implementations:
//   - MemoryStore: TTL map with a cleanup goroutine (default)
//   - SQLiteStore: survives restarts (modernc.org/sqlite, pure Go)
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL for cached summaries.
const DefaultTTL = 24 * time.Hour

const cleanupInterval = 5 * time.Minute

// Record is a cached summary.
type Record struct {
	Summary   string    `json:"summary"`
	Tokens    int       `json:"tokens"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the interface for summary storage.
type Store interface {
	// Get retrieves a record if it exists and hasn't expired.
	Get(key string) (*Record, bool)

	// Set stores a record with the store's TTL.
	Set(key string, rec Record) error

	// Delete removes a record.
	Delete(key string) error

	// Close cleans up resources.
	Close() error
}

// Key builds the cache key of a message summary.
func Key(conversation int, messageID int64, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%d:%d:%s", conversation, messageID, hex.EncodeToString(sum[:8]))
}

// Config selects and configures the store.
type Config struct {
	Type string        `yaml:"type"` // "memory" or "sqlite"
	Path string        `yaml:"path"` // SQLite database file
	TTL  time.Duration `yaml:"ttl"`
}

// Validate checks the store settings.
func (c Config) Validate() error {
	switch c.Type {
	case "", "memory":
	case "sqlite":
		if c.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	default:
		return fmt.Errorf("store.type must be memory or sqlite, got %q", c.Type)
	}
	if c.TTL < 0 {
		return fmt.Errorf("store.ttl must not be negative")
	}
	return nil
}

// Open creates the configured store.
func Open(cfg Config) (Store, error) {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if cfg.Type == "sqlite" {
		return NewSQLiteStore(cfg.Path, ttl)
	}
	return NewMemoryStore(ttl), nil
}

// =============================================================================
// MEMORY
// =============================================================================

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	data     map[string]entry
	mu       sync.RWMutex
	ttl      time.Duration
	stopChan chan struct{}
	stopped  bool
}

type entry struct {
	record    Record
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		data:     make(map[string]entry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// Set stores a record.
func (s *MemoryStore) Set(key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.data[key] = entry{
		record:    rec,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

// Get retrieves a record if it exists and hasn't expired.
func (s *MemoryStore) Get(key string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[key]
	if !exists || time.Now().After(e.expiresAt) {
		return nil, false
	}

	rec := e.record
	return &rec, true
}

// Delete removes a record.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close stops the cleanup goroutine and clears data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
		s.data = make(map[string]entry)
	}
	return nil
}

// cleanup periodically removes expired entries.
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.purge(time.Now())
		}
	}
}

func (s *MemoryStore) purge(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.data {
		if now.After(e.expiresAt) {
			delete(s.data, key)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
