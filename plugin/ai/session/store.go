package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps histories in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*History
	closed   bool
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*History),
		now:      time.Now,
	}
}

// Load implements HistoryStore.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (*History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	h, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return h.Clone(), nil
}

// Save implements HistoryStore.
func (s *MemoryStore) Save(_ context.Context, history *History) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	stored := history.Clone()
	now := s.now().Unix()
	if stored.CreatedAt == 0 {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.sessions[stored.SessionID] = stored
	return nil
}

// Delete implements HistoryStore.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.sessions, sessionID)
	return nil
}

// CleanupExpired implements HistoryStore.
func (s *MemoryStore) CleanupExpired(_ context.Context, idle time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle).Unix()
	var deleted int64
	for id, h := range s.sessions {
		if h.UpdatedAt < cutoff {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close implements HistoryStore.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sessions = make(map[string]*History)
	return nil
}
