package session

import (
	"context"
	"fmt"

	"github.com/hrygo/parrotalk/plugin/ai"
)

// DefaultHistoryLimit is the number of non-system messages kept per session.
const DefaultHistoryLimit = 20

// SessionRecovery resolves, extends and clears session histories with a sliding window.
type SessionRecovery struct {
	store HistoryStore
	limit int
}

// NewSessionRecovery creates a recovery handler keeping limit non-system messages.
func NewSessionRecovery(store HistoryStore, limit int) *SessionRecovery {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &SessionRecovery{
		store: store,
		limit: limit,
	}
}

// Limit returns the sliding window size.
func (r *SessionRecovery) Limit() int {
	return r.limit
}

// RecoverSession returns the stored history for sessionID. A missing session is
// seeded with systemPrompt but not saved until the first AppendTurn.
func (r *SessionRecovery) RecoverSession(ctx context.Context, sessionID, userID, systemPrompt string) (*History, error) {
	existing, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if existing != nil && len(existing.Messages) > 0 {
		if existing.UserID == "" {
			existing.UserID = userID
		}
		return existing, nil
	}

	messages := make([]ai.Message, 0, r.limit+1)
	messages = append(messages, ai.SystemPrompt(systemPrompt))
	return &History{
		SessionID: sessionID,
		UserID:    userID,
		Messages:  messages,
	}, nil
}

// AppendTurn appends msgs to h, applies the sliding window and saves the result.
// h itself is left untouched.
func (r *SessionRecovery) AppendTurn(ctx context.Context, h *History, msgs ...ai.Message) (*History, error) {
	next := h.Clone()
	next.Messages = ai.TruncateHistory(append(next.Messages, msgs...), r.limit)

	if err := r.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return next, nil
}

// ClearSession removes the stored history. Clearing an unknown id succeeds.
func (r *SessionRecovery) ClearSession(ctx context.Context, sessionID string) error {
	if err := r.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
