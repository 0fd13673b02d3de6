package store

import (
	"context"
)

// ConversationStore inserts conversation records.
type ConversationStore interface {
	// InsertConversation writes the columns of fs for c. It returns an error
	// wrapping ErrSchemaMismatch when the table lacks one of those columns.
	InsertConversation(ctx context.Context, c *Conversation, fs FieldSet) error
}

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	ConversationStore

	Close() error
}
