package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/parrotalk/plugin/ai/timeout"
)

// Provider implements Transcriber, ChatCompleter and Synthesizer against an
// OpenAI compatible API.
type Provider struct {
	client *openai.Client
	config *Config
	// backoff is the base wait before the first retry.
	backoff time.Duration
}

var (
	_ Transcriber   = (*Provider)(nil)
	_ ChatCompleter = (*Provider)(nil)
	_ Synthesizer   = (*Provider)(nil)
)

// NewProvider creates a new upstream provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, errors.New("provider config is required")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		backoff: 500 * time.Millisecond,
	}, nil
}

// Transcribe converts recorded speech to text.
func (p *Provider) Transcribe(ctx context.Context, audio AudioInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.TranscriptionTimeout)
	defer cancel()

	filename := audio.Filename
	if filename == "" {
		filename = "recording.webm"
	}

	var text string
	err := p.doWithRetry(ctx, func() error {
		resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    p.config.Transcription.Model,
			FilePath: filename,
			Reader:   bytes.NewReader(audio.Data),
			Language: p.config.Transcription.Language,
		})
		if err != nil {
			return err
		}
		text = resp.Text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return text, nil
}

// Chat performs a chat completion over the full message history.
func (p *Provider) Chat(ctx context.Context, messages []Message) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.ChatTimeout)
	defer cancel()

	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		llmMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	var result *ChatResponse
	err := p.doWithRetry(ctx, func() error {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       p.config.LLM.Model,
			Messages:    llmMessages,
			Temperature: p.config.LLM.Temperature,
			MaxTokens:   p.config.LLM.MaxTokens,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty chat response")
		}
		result = &ChatResponse{
			Content:          resp.Choices[0].Message.Content,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete chat: %w", err)
	}
	return result, nil
}

// Synthesize converts the reply text to speech.
func (p *Provider) Synthesize(ctx context.Context, text string) (*SpeechOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.SpeechTimeout)
	defer cancel()

	var data []byte
	err := p.doWithRetry(ctx, func() error {
		resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(p.config.Speech.Model),
			Input:          text,
			Voice:          openai.SpeechVoice(p.config.Speech.Voice),
			ResponseFormat: openai.SpeechResponseFormat(p.config.Speech.Format),
		})
		if err != nil {
			return err
		}
		defer resp.Close()

		data, err = io.ReadAll(resp)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	return &SpeechOutput{Data: data, Format: p.config.Speech.Format}, nil
}

// doWithRetry executes fn with exponential backoff while the failure is retryable.
func (p *Provider) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == p.config.MaxRetries-1 {
			break
		}

		waitTime := time.Duration(math.Pow(2, float64(attempt))) * p.backoff
		slog.Warn("upstream request failed, retrying",
			"attempt", attempt+1,
			"wait_time", waitTime,
			"error", lastErr)
		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// StatusCode returns the HTTP status reported by the upstream for err, or 0
// when the request never produced a response.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// IsRetryable reports whether an upstream failure is transient.
// Rate limits are surfaced to the caller rather than retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	status := StatusCode(err)
	return status == 0 || status >= http.StatusInternalServerError
}
