package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps history in process for local and test use.
type InMemoryStore struct {
	mu       sync.RWMutex
	entries  map[string][]Entry
	terminal map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries:  make(map[string][]Entry),
		terminal: make(map[string]struct{}),
	}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Status.Terminal() {
		key := entry.SessionID + "\x00" + entry.CallID
		if _, dup := s.terminal[key]; dup {
			return ErrDuplicateTerminal
		}
		s.terminal[key] = struct{}{}
	}
	s.entries[entry.SessionID] = append(s.entries[entry.SessionID], entry)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, sessionID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.entries[sessionID]
	out := make([]Entry, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
