package session

import (
	"context"
	"sync"
	"time"
)

// MockHistoryStore is a HistoryStore for tests with call counting and error injection.
type MockHistoryStore struct {
	*MemoryStore

	mu        sync.Mutex
	LoadErr   error
	SaveErr   error
	DeleteErr error
	Saves     int
	Deletes   int
}

// NewMockHistoryStore creates an empty mock store.
func NewMockHistoryStore() *MockHistoryStore {
	return &MockHistoryStore{MemoryStore: NewMemoryStore()}
}

// Load implements HistoryStore.
func (m *MockHistoryStore) Load(ctx context.Context, sessionID string) (*History, error) {
	m.mu.Lock()
	err := m.LoadErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.MemoryStore.Load(ctx, sessionID)
}

// Save implements HistoryStore.
func (m *MockHistoryStore) Save(ctx context.Context, history *History) error {
	m.mu.Lock()
	m.Saves++
	err := m.SaveErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.MemoryStore.Save(ctx, history)
}

// Delete implements HistoryStore.
func (m *MockHistoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	m.Deletes++
	err := m.DeleteErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.MemoryStore.Delete(ctx, sessionID)
}

// SetSessionDirectly stores h without touching its timestamps.
func (m *MockHistoryStore) SetSessionDirectly(h *History) {
	m.MemoryStore.mu.Lock()
	defer m.MemoryStore.mu.Unlock()
	m.MemoryStore.sessions[h.SessionID] = h.Clone()
}

// SetClock overrides the time source used for timestamps and expiry.
func (m *MockHistoryStore) SetClock(now func() time.Time) {
	m.MemoryStore.mu.Lock()
	defer m.MemoryStore.mu.Unlock()
	m.MemoryStore.now = now
}
