package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hrygo/parrotalk/store"
)

// undefinedColumn is the SQLSTATE for a reference to a missing column.
const undefinedColumn = "42703"

func (d *DB) InsertConversation(ctx context.Context, c *store.Conversation, fs store.FieldSet) error {
	stmt := insertStatement(fs)
	if _, err := d.db.ExecContext(ctx, stmt, c.Values(fs)...); err != nil {
		if isUndefinedColumn(err) {
			return fmt.Errorf("%w: %v", store.ErrSchemaMismatch, err)
		}
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func insertStatement(fs store.FieldSet) string {
	cols := store.Columns(fs)
	values := placeholders(len(cols))
	if fs == store.FieldsFull {
		// prompt_settings is jsonb; the driver sends it as text
		values = strings.Replace(values, placeholder(6), placeholder(6)+"::jsonb", 1)
	}
	return `INSERT INTO ` + store.ConversationTable + ` (` + strings.Join(cols, ", ") + `) VALUES (` + values + `)`
}

func isUndefinedColumn(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == undefinedColumn
	}
	return false
}
