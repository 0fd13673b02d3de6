package store

import (
	"context"
	"errors"
	"fmt"
)

// Store provides access to conversation persistence through a Driver.
type Store struct {
	driver Driver
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{
		driver: driver,
	}
}

// GetDriver returns the underlying driver.
func (s *Store) GetDriver() Driver {
	return s.driver
}

// Close closes the underlying driver.
func (s *Store) Close() error {
	return s.driver.Close()
}

// InsertConversation implements ConversationStore.
func (s *Store) InsertConversation(ctx context.Context, c *Conversation, fs FieldSet) error {
	return s.driver.InsertConversation(ctx, c, fs)
}

// CreateConversation writes the full record and, when the schema lacks a usage
// column, retries once with the basic field set. It returns the field set that
// was stored.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) (FieldSet, error) {
	return CreateConversation(ctx, s.driver, c)
}

// CreateConversation applies the two-tier write policy against any ConversationStore.
func CreateConversation(ctx context.Context, cs ConversationStore, c *Conversation) (FieldSet, error) {
	err := cs.InsertConversation(ctx, c, FieldsFull)
	if err == nil {
		return FieldsFull, nil
	}
	if !errors.Is(err, ErrSchemaMismatch) {
		return FieldsFull, fmt.Errorf("insert conversation: %w", err)
	}
	if err := cs.InsertConversation(ctx, c, FieldsBasic); err != nil {
		return FieldsBasic, fmt.Errorf("insert conversation with basic fields: %w", err)
	}
	return FieldsBasic, nil
}
