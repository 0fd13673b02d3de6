package store

import (
	"encoding/json"
	"errors"
)

// ErrSchemaMismatch reports that the target table lacks a column of the written field set.
var ErrSchemaMismatch = errors.New("conversation schema mismatch")

// ConversationTable is the table conversation records are written to.
const ConversationTable = "conversations"

// FieldSet selects which columns an insert writes.
type FieldSet int

const (
	// FieldsFull writes every column including usage accounting.
	FieldsFull FieldSet = iota
	// FieldsBasic writes only the stable columns every deployed schema has.
	FieldsBasic
)

func (f FieldSet) String() string {
	if f == FieldsBasic {
		return "basic"
	}
	return "full"
}

// Conversation is one persisted tutor turn.
type Conversation struct {
	UserID           string
	Title            string
	UserMessage      string
	AssistantMessage string
	// Duration is the client-reported recording length in seconds.
	Duration       float64
	PromptSettings json.RawMessage

	AudioInputSeconds  float64
	AudioOutputSeconds float64
	TranscriptionChars int
	TTSChars           int
	PromptTokens       int
	CompletionTokens   int
	TotalTokens        int
	EstimatedCostUSD   float64
}

// Columns returns the column names written for fs, in insert order.
func Columns(fs FieldSet) []string {
	cols := []string{"user_id", "title", "user_message", "assistant_message", "duration"}
	if fs == FieldsBasic {
		return cols
	}
	return append(cols,
		"prompt_settings",
		"audio_input_seconds",
		"audio_output_seconds",
		"transcription_chars",
		"tts_chars",
		"prompt_tokens",
		"completion_tokens",
		"total_tokens",
		"estimated_cost_usd",
	)
}

// Values returns the column values for fs in the same order as Columns.
// An empty title and empty prompt settings are written as NULL.
func (c *Conversation) Values(fs FieldSet) []any {
	var title any
	if c.Title != "" {
		title = c.Title
	}
	values := []any{c.UserID, title, c.UserMessage, c.AssistantMessage, c.Duration}
	if fs == FieldsBasic {
		return values
	}

	var settings any
	if len(c.PromptSettings) > 0 && string(c.PromptSettings) != "null" {
		settings = string(c.PromptSettings)
	}
	return append(values,
		settings,
		c.AudioInputSeconds,
		c.AudioOutputSeconds,
		c.TranscriptionChars,
		c.TTSChars,
		c.PromptTokens,
		c.CompletionTokens,
		c.TotalTokens,
		c.EstimatedCostUSD,
	)
}

// Row returns the record as a column map for document-style inserts.
func (c *Conversation) Row(fs FieldSet) map[string]any {
	cols := Columns(fs)
	values := c.Values(fs)
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = values[i]
	}
	if v, ok := row["prompt_settings"].(string); ok {
		// keep JSON structure for stores that accept jsonb documents
		row["prompt_settings"] = json.RawMessage(v)
	}
	return row
}
