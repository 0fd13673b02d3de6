// Package session provides bounded per-session conversation history for the turn pipeline.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/hrygo/parrotalk/plugin/ai"
)

// ErrStoreClosed is returned by stores used after Close.
var ErrStoreClosed = errors.New("session store closed")

// HistoryStore persists conversation history keyed by session id.
// Implementations are safe for concurrent use. Concurrent writers to the same
// session id are not serialized: the last Save wins.
type HistoryStore interface {
	// Load returns the history for sessionID, or nil when none exists.
	Load(ctx context.Context, sessionID string) (*History, error)

	// Save replaces the stored history and refreshes its idle deadline.
	Save(ctx context.Context, history *History) error

	// Delete removes the history. Deleting an unknown id is not an error.
	Delete(ctx context.Context, sessionID string) error

	// CleanupExpired removes histories idle for longer than idle and returns the count.
	CleanupExpired(ctx context.Context, idle time.Duration) (int64, error)

	// Close releases resources held by the store.
	Close() error
}

// History is the ordered message list of one session.
// Messages[0] is always the system instruction.
type History struct {
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id,omitempty"`
	Messages  []ai.Message `json:"messages"`
	CreatedAt int64        `json:"created_at"`
	UpdatedAt int64        `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the stored slice.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	c := *h
	c.Messages = make([]ai.Message, len(h.Messages))
	copy(c.Messages, h.Messages)
	return &c
}
