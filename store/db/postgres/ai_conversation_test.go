package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/parrotalk/store"
)

func TestInsertStatement(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO conversations (user_id, title, user_message, assistant_message, duration) VALUES ($1, $2, $3, $4, $5)",
		insertStatement(store.FieldsBasic))

	full := insertStatement(store.FieldsFull)
	assert.Contains(t, full, "$6::jsonb, $7")
	assert.Contains(t, full, "$14)")
}

func TestIsUndefinedColumn(t *testing.T) {
	assert.True(t, isUndefinedColumn(&pq.Error{Code: "42703"}))
	assert.True(t, isUndefinedColumn(fmt.Errorf("exec: %w", &pq.Error{Code: "42703"})))
	assert.False(t, isUndefinedColumn(&pq.Error{Code: "42P01"}))
	assert.False(t, isUndefinedColumn(errors.New("column missing")))
}

func TestInsertConversation_Postgres(t *testing.T) {
	dsn := os.Getenv("PARROTALK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARROTALK_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	conn, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `DROP TABLE IF EXISTS conversations;
		CREATE TABLE conversations (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT,
			user_message TEXT NOT NULL,
			assistant_message TEXT NOT NULL,
			duration DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	require.NoError(t, err)

	d := NewDBWithConn(conn)
	c := &store.Conversation{UserID: "u1", UserMessage: "hi", AssistantMessage: "hello", TTSChars: 5}

	err = d.InsertConversation(ctx, c, store.FieldsFull)
	assert.ErrorIs(t, err, store.ErrSchemaMismatch)

	fs, err := store.CreateConversation(ctx, d, c)
	require.NoError(t, err)
	assert.Equal(t, store.FieldsBasic, fs)
}
