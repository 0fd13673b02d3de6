package supabase

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/supabase-community/supabase-go"

	"github.com/hrygo/parrotalk/internal/profile"
	"github.com/hrygo/parrotalk/store"
)

// DB writes conversation records through the Supabase REST interface.
type DB struct {
	client *supabase.Client
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.SupabaseURL == "" {
		return nil, errors.New("supabase URL is required")
	}
	if profile.SupabaseKey == "" {
		return nil, errors.New("supabase API key is required")
	}

	client, err := supabase.NewClient(profile.SupabaseURL, profile.SupabaseKey, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create supabase client")
	}
	return &DB{client: client}, nil
}

// Client exposes the underlying client so auth can share it.
func (d *DB) Client() *supabase.Client {
	return d.client
}

func (d *DB) InsertConversation(ctx context.Context, c *store.Conversation, fs store.FieldSet) error {
	// The REST client has no context support; honor cancellation before the call.
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := d.client.From(store.ConversationTable).
		Insert(c.Row(fs), false, "", "minimal", "").
		Execute()
	if err != nil {
		if isMissingColumn(err) {
			return fmt.Errorf("%w: %v", store.ErrSchemaMismatch, err)
		}
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// Close is a no-op; the REST client holds no connections of its own.
func (d *DB) Close() error {
	return nil
}

// isMissingColumn matches PostgREST's schema cache miss and Postgres' undefined column.
func isMissingColumn(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "PGRST204") ||
		strings.Contains(msg, "42703") ||
		strings.Contains(strings.ToLower(msg), "column")
}
