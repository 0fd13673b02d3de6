package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/parrotalk/store"
)

func (d *DB) InsertConversation(ctx context.Context, c *store.Conversation, fs store.FieldSet) error {
	cols := store.Columns(fs)
	stmt := `INSERT INTO ` + store.ConversationTable + ` (` + strings.Join(cols, ", ") + `) VALUES (` + placeholders(len(cols)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, c.Values(fs)...); err != nil {
		if strings.Contains(err.Error(), "has no column named") {
			return fmt.Errorf("%w: %v", store.ErrSchemaMismatch, err)
		}
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}
