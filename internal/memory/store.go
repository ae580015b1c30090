// Package memory persists per-thread conversation state.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/autostream/leadflow/internal/models"
)

// ErrThreadNotFound indicates no state exists for a thread id
var ErrThreadNotFound = errors.New("thread not found")

// Store holds one ConversationState per thread id.
// Get returns a copy; mutating it never changes stored state until Put.
type Store interface {
	// Get loads the state for a thread, or ErrThreadNotFound
	Get(ctx context.Context, threadID string) (*models.ConversationState, error)

	// Put replaces the stored state for state.ThreadID
	Put(ctx context.Context, state *models.ConversationState) error

	// Count returns the number of stored threads
	Count(ctx context.Context) (int64, error)

	// Close releases the backend
	Close() error
}

// Config holds state store configuration
type Config struct {
	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// BadgerDB configuration
	BadgerPath     string
	BadgerInMemory bool
}

// DefaultConfig returns default state store configuration
func DefaultConfig() *Config {
	return &Config{
		RedisURL:   "localhost:6379",
		RedisDB:    0,
		RedisTTL:   24 * time.Hour,
		BadgerPath: "~/.leadflow/threads",
	}
}

// New opens the store for a backend name: memory, redis or badger
func New(backend string, config *Config) (Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch backend {
	case "", "memory":
		return NewInMemoryStore(), nil
	case "redis":
		store, err := NewRedisStore(config)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "badger":
		store, err := NewBadgerStore(config)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// InMemoryStore keeps threads in a map for the life of the process
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*models.ConversationState
}

// NewInMemoryStore creates an empty in-process store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string]*models.ConversationState)}
}

func (s *InMemoryStore) Get(ctx context.Context, threadID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return state.Clone(), nil
}

func (s *InMemoryStore) Put(ctx context.Context, state *models.ConversationState) error {
	if state == nil || state.ThreadID == "" {
		return errors.New("state must have a thread id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[state.ThreadID] = state.Clone()
	return nil
}

func (s *InMemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.threads)), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
