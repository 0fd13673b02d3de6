package ai

import (
	"context"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// AudioInput is an uploaded recording handed to a Transcriber.
type AudioInput struct {
	Data     []byte
	Filename string
	MIMEType string
}

// ChatResponse is one completion with its token usage.
type ChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// SpeechOutput is synthesized audio.
type SpeechOutput struct {
	Data   []byte
	Format string // mp3
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio AudioInput) (string, error)
}

// ChatCompleter produces the next assistant message for a conversation.
type ChatCompleter interface {
	Chat(ctx context.Context, messages []Message) (*ChatResponse, error)
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*SpeechOutput, error)
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// TruncateHistory keeps the leading system message and the most recent limit
// messages after it. The input slice is not modified.
func TruncateHistory(history []Message, limit int) []Message {
	if limit < 0 {
		limit = 0
	}
	if len(history) <= limit+1 {
		out := make([]Message, len(history))
		copy(out, history)
		return out
	}

	out := make([]Message, 0, limit+1)
	tail := history[len(history)-limit:]
	if history[0].Role == RoleSystem {
		out = append(out, history[0])
	} else {
		// no system message to pin, keep one more turn instead
		tail = history[len(history)-limit-1:]
	}
	return append(out, tail...)
}
