// Package turn runs one spoken tutor turn: transcribe, reply, synthesize,
// account for usage and record the exchange.
package turn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hrygo/parrotalk/plugin/ai"
	"github.com/hrygo/parrotalk/plugin/ai/prompt"
	"github.com/hrygo/parrotalk/plugin/ai/session"
	"github.com/hrygo/parrotalk/plugin/ai/timeout"
	"github.com/hrygo/parrotalk/server/finops"
	"github.com/hrygo/parrotalk/server/internal/errors"
	"github.com/hrygo/parrotalk/server/internal/observability"
	"github.com/hrygo/parrotalk/store"
)

// DefaultMaxConcurrentTurns bounds in-flight turns when not configured.
const DefaultMaxConcurrentTurns = 16

// Audio is one uploaded recording.
type Audio struct {
	Data     []byte
	MIMEType string
	Filename string
}

// TurnRequest carries everything one turn needs.
type TurnRequest struct {
	SessionID string
	// UserID is empty for anonymous callers; the turn is then not persisted.
	UserID          string
	Title           string
	Audio           *Audio
	DurationSeconds float64
	// PromptOptions customize the system prompt of a new session.
	PromptOptions *prompt.Options
}

// AudioOut is the synthesized reply, base64 encoded.
type AudioOut struct {
	Data   string
	Format string
}

// TurnResult is the outcome of a successful turn.
type TurnResult struct {
	SessionID  string
	Transcript string
	Reply      string
	AudioOut   AudioOut
	Usage      finops.TurnUsage
}

// Config wires an Orchestrator.
type Config struct {
	Transcriber ai.Transcriber
	Chat        ai.ChatCompleter
	Synthesizer ai.Synthesizer
	History     session.HistoryStore
	// HistoryLimit is the number of non-system messages kept per session.
	HistoryLimit int
	// Conversations is optional; nil disables persistence.
	Conversations      store.ConversationStore
	Rates              finops.Rates
	Validation         ValidationConfig
	MaxConcurrentTurns int64
	Metrics            *observability.Metrics
	Logger             *slog.Logger
}

// Orchestrator executes turns. It is safe for concurrent use; turns on the
// same session are not serialized and the last history write wins.
type Orchestrator struct {
	transcriber   ai.Transcriber
	chat          ai.ChatCompleter
	synthesizer   ai.Synthesizer
	sessions      *session.SessionRecovery
	conversations store.ConversationStore
	rates         finops.Rates
	validation    ValidationConfig
	sem           *semaphore.Weighted
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// New creates an orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	if cfg.MaxConcurrentTurns <= 0 {
		cfg.MaxConcurrentTurns = DefaultMaxConcurrentTurns
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.GlobalMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.History == nil {
		cfg.History = session.NewMemoryStore()
	}
	if cfg.Rates == (finops.Rates{}) {
		cfg.Rates = finops.DefaultRates()
	}
	return &Orchestrator{
		transcriber:   cfg.Transcriber,
		chat:          cfg.Chat,
		synthesizer:   cfg.Synthesizer,
		sessions:      session.NewSessionRecovery(cfg.History, cfg.HistoryLimit),
		conversations: cfg.Conversations,
		rates:         cfg.Rates,
		validation:    cfg.Validation,
		sem:           semaphore.NewWeighted(cfg.MaxConcurrentTurns),
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// HandleTurn runs one turn. Errors are *errors.AIError values; persistence
// failures are logged and never returned.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	reqCtx, ok := observability.FromContext(ctx)
	if !ok {
		reqCtx = observability.NewRequestContext(o.logger, req.SessionID, req.UserID)
		ctx = observability.WithRequestContext(ctx, reqCtx)
	}

	if req.SessionID == "" {
		o.metrics.RecordRejection()
		return nil, errors.InvalidArgument("sessionId is required")
	}
	if err := ValidateAudio(req.Audio, o.validation); err != nil {
		o.metrics.RecordRejection()
		reqCtx.Warn("audio rejected", slog.String(observability.LogFieldErrorCode, string(errors.GetCodeFromError(err, errors.ErrCodeInvalidArgument))))
		return nil, err
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.metrics.RecordRejection()
		if stderrors.Is(ctx.Err(), context.Canceled) {
			return nil, errors.ContextCanceled(err)
		}
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "no turn capacity available")
	}
	defer o.sem.Release(1)

	start := time.Now()
	result, err := o.run(ctx, reqCtx, req)
	if err != nil {
		o.metrics.RecordTurnFailure()
		reqCtx.Error("turn failed", err,
			slog.String(observability.LogFieldErrorCode, string(errors.GetCodeFromError(err, errors.ErrCodeInternal))))
		return nil, err
	}

	o.metrics.RecordTurn(time.Since(start), result.Usage.EstimatedCostUSD)
	reqCtx.Info("turn completed",
		slog.Int64(observability.LogFieldDuration, time.Since(start).Milliseconds()),
		slog.Float64(observability.LogFieldCostUSD, result.Usage.EstimatedCostUSD))
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, reqCtx *observability.RequestContext, req TurnRequest) (*TurnResult, error) {
	reqCtx.Debug("received audio",
		slog.Int(observability.LogFieldAudioBytes, len(req.Audio.Data)),
		slog.String("mime_type", req.Audio.MIMEType))

	var transcript string
	err := o.stage(ctx, observability.StageTranscribe, func(ctx context.Context) error {
		var err error
		transcript, err = o.transcriber.Transcribe(ctx, ai.AudioInput{
			Data:     req.Audio.Data,
			Filename: req.Audio.Filename,
			MIMEType: req.Audio.MIMEType,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	reqCtx.Debug("transcribed", slog.String("transcript", timeout.Truncate(transcript)))

	history, err := o.sessions.RecoverSession(ctx, req.SessionID, req.UserID, systemPrompt(req.PromptOptions))
	if err != nil {
		return nil, errors.Internal("failed to load session", err)
	}

	messages := append(cloneMessages(history.Messages), ai.UserMessage(transcript))
	var reply *ai.ChatResponse
	err = o.stage(ctx, observability.StageChat, func(ctx context.Context) error {
		var err error
		reply, err = o.chat.Chat(ctx, messages)
		return err
	})
	if err != nil {
		return nil, err
	}

	if _, err := o.sessions.AppendTurn(ctx, history, ai.UserMessage(transcript), ai.AssistantMessage(reply.Content)); err != nil {
		return nil, errors.Internal("failed to save session", err)
	}
	reqCtx.Debug("assistant replied", slog.String("reply", timeout.Truncate(reply.Content)))

	var speech *ai.SpeechOutput
	err = o.stage(ctx, observability.StageSpeak, func(ctx context.Context) error {
		var err error
		speech, err = o.synthesizer.Synthesize(ctx, reply.Content)
		return err
	})
	if err != nil {
		return nil, err
	}

	usage := o.rates.Price(finops.TurnUsage{
		AudioInputSeconds:  audioSeconds(req.DurationSeconds),
		TranscriptionChars: len([]rune(transcript)),
		TTSChars:           len([]rune(reply.Content)),
		PromptTokens:       reply.PromptTokens,
		CompletionTokens:   reply.CompletionTokens,
		TotalTokens:        reply.TotalTokens,
	})

	result := &TurnResult{
		SessionID:  req.SessionID,
		Transcript: transcript,
		Reply:      reply.Content,
		AudioOut: AudioOut{
			Data:   base64.StdEncoding.EncodeToString(speech.Data),
			Format: speech.Format,
		},
		Usage: usage,
	}

	o.persist(ctx, reqCtx, req, result)
	return result, nil
}

// stage runs fn under the stage's timeout, records it and classifies failures.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout(name))
	defer cancel()

	start := time.Now()
	err := fn(stageCtx)
	o.metrics.RecordStage(name, time.Since(start), err)
	if err == nil {
		return nil
	}
	// Only the caller going away is a cancel; the turn deadline is ours.
	if stderrors.Is(ctx.Err(), context.Canceled) {
		return errors.ContextCanceled(err).WithContext("stage", name)
	}
	if ctx.Err() != nil || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Upstream(name, 0, err)
	}
	return errors.Upstream(name, ai.StatusCode(err), err)
}

// persist writes the turn record when a user is known. It never fails the turn.
func (o *Orchestrator) persist(ctx context.Context, reqCtx *observability.RequestContext, req TurnRequest, result *TurnResult) {
	if o.conversations == nil || req.UserID == "" {
		return
	}

	record := &store.Conversation{
		UserID:             req.UserID,
		Title:              req.Title,
		UserMessage:        result.Transcript,
		AssistantMessage:   result.Reply,
		Duration:           audioSeconds(req.DurationSeconds),
		AudioInputSeconds:  result.Usage.AudioInputSeconds,
		AudioOutputSeconds: result.Usage.AudioOutputSeconds,
		TranscriptionChars: result.Usage.TranscriptionChars,
		TTSChars:           result.Usage.TTSChars,
		PromptTokens:       result.Usage.PromptTokens,
		CompletionTokens:   result.Usage.CompletionTokens,
		TotalTokens:        result.Usage.TotalTokens,
		EstimatedCostUSD:   result.Usage.EstimatedCostUSD,
	}
	if req.PromptOptions != nil {
		if raw, err := json.Marshal(req.PromptOptions); err == nil {
			record.PromptSettings = raw
		}
	}

	// The caller may already be gone; the record is still worth keeping.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout.PersistTimeout)
	defer cancel()

	start := time.Now()
	fs, err := store.CreateConversation(persistCtx, o.conversations, record)
	o.metrics.RecordStage(observability.StagePersist, time.Since(start), err)
	if err != nil {
		perr := errors.PersistenceFailed("failed to save conversation", err)
		reqCtx.Warn("conversation not saved",
			slog.String(observability.LogFieldErrorCode, string(perr.Code)),
			slog.String("error", err.Error()))
		return
	}
	if fs == store.FieldsBasic {
		reqCtx.Warn("conversation saved without usage fields")
	}
}

// ClearSession removes a session's history. Unknown ids succeed.
func (o *Orchestrator) ClearSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.InvalidArgument("sessionId parameter required")
	}
	if err := o.sessions.ClearSession(ctx, sessionID); err != nil {
		return errors.Internal("failed to clear session", err)
	}
	observability.FromContextOrNew(ctx, sessionID, "").Info("session cleared")
	return nil
}

func systemPrompt(opts *prompt.Options) string {
	if opts == nil || opts.IsZero() {
		return prompt.Default()
	}
	return prompt.Build(*opts)
}

func stageTimeout(stage string) time.Duration {
	switch stage {
	case observability.StageTranscribe:
		return timeout.TranscriptionTimeout
	case observability.StageChat:
		return timeout.ChatTimeout
	case observability.StageSpeak:
		return timeout.SpeechTimeout
	}
	return timeout.TurnTimeout
}

// audioSeconds sanitizes the client-reported duration.
func audioSeconds(d float64) float64 {
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0
	}
	return d
}

func cloneMessages(msgs []ai.Message) []ai.Message {
	out := make([]ai.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return out
}
