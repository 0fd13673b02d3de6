// Package agent drives one spoken conversation from the client side: it uploads
// recorded turns, plays the replies and exposes a single observable state.
package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/parrotalk/client/api"
	"github.com/hrygo/parrotalk/client/capture"
	"github.com/hrygo/parrotalk/plugin/ai/prompt"
)

var (
	// ErrCancelled is returned by SubmitTurn when the turn was cancelled. It is not a failure.
	ErrCancelled = errors.New("turn cancelled")
	// ErrNoAudio is returned by SubmitTurn when called without a recording.
	ErrNoAudio = errors.New("no audio provided")
)

// clearTimeout bounds the best-effort server clear in ResetSession.
const clearTimeout = 5 * time.Second

// Transport carries turns to the server.
type Transport interface {
	PostTurn(ctx context.Context, up api.TurnUpload) (*api.TurnResponse, error)
	ClearSession(ctx context.Context, sessionID string) error
}

// Config configures an Agent.
type Config struct {
	Transport Transport
	// SessionID resumes an existing session; empty starts a new one.
	SessionID string
	// Player is optional; without one replies are not played.
	Player        Player
	PromptOptions *prompt.Options
	Title         string
	// OnText receives the assistant text of every successful turn. It runs on
	// the SubmitTurn goroutine and must not call SubmitTurn, Cancel or ResetSession.
	OnText func(text string)
	Logger *slog.Logger
}

// Agent is safe for use from any goroutine.
type Agent struct {
	transport Transport
	player    Player
	options   *prompt.Options
	title     string
	onText    func(string)
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	// textMu is held while OnText runs so that supersession waits for it.
	textMu sync.Mutex

	mu           sync.Mutex
	state        State
	gen          uint64
	seq          uint64
	cancelReq    context.CancelFunc
	playback     Playback
	requestStart time.Time
	audioStart   time.Time

	subMu     sync.Mutex
	subs      map[int]func(State)
	nextSub   int
	published uint64
}

// New creates an agent for cfg.SessionID, or for a fresh session id when it is empty.
func New(cfg Config) *Agent {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &Agent{
		transport: cfg.Transport,
		player:    cfg.Player,
		options:   cfg.PromptOptions,
		title:     cfg.Title,
		onText:    cfg.OnText,
		logger:    cfg.Logger,
		now:       time.Now,
		newID:     NewSessionID,
		subs:      make(map[int]func(State)),
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = a.newID()
	}
	a.state = State{SessionID: sessionID, Phase: PhaseIdle}
	return a
}

// NewSessionID returns a new client session id.
func NewSessionID() string {
	return "session-" + shortuuid.New()
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SessionID returns the current session id.
func (a *Agent) SessionID() string {
	return a.State().SessionID
}

// Subscribe registers fn for every state change and returns its unsubscribe func.
// Callbacks run on the goroutine that made the change and must not block; a
// snapshot older than one already delivered is dropped.
func (a *Agent) Subscribe(fn func(State)) func() {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	return func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		delete(a.subs, id)
	}
}

// SubmitTurn uploads blob and, when the reply carries audio, starts playing it.
// It returns once playback has started. A newer SubmitTurn, Cancel or
// ResetSession supersedes this call, which then returns ErrCancelled.
func (a *Agent) SubmitTurn(ctx context.Context, blob *capture.Blob) (*api.TurnResponse, error) {
	if blob == nil {
		a.mu.Lock()
		a.state.Phase = PhaseError
		a.state.Error = "No audio provided"
		snap := a.snapshotLocked()
		a.mu.Unlock()
		a.publish(snap)
		return nil, ErrNoAudio
	}

	a.mu.Lock()
	stale := a.supersedeLocked()
	gen := a.gen
	reqCtx, cancel := context.WithCancel(ctx)
	a.cancelReq = cancel
	a.requestStart = a.now()
	a.state.Phase = PhaseRequesting
	a.state.IsLoading = true
	a.state.IsConnected = true
	a.state.HasActiveRequest = true
	a.state.Error = ""
	a.state.LastActivityTime = a.requestStart
	sessionID := a.state.SessionID
	snap := a.snapshotLocked()
	a.mu.Unlock()
	stale.release()
	a.awaitText()
	a.publish(snap)

	a.logger.Debug("submitting turn", "session_id", sessionID, "bytes", blob.Len(), "mime_type", blob.MIMEType)
	resp, err := a.transport.PostTurn(reqCtx, api.TurnUpload{
		SessionID:       sessionID,
		Audio:           blob.Data,
		MIMEType:        blob.MIMEType,
		Filename:        blob.Filename(),
		DurationSeconds: blob.Duration.Seconds(),
		Title:           a.title,
		PromptOptions:   a.options,
	})
	cancel()

	if err != nil {
		return nil, a.fail(ctx, gen, err)
	}

	if a.onText != nil && resp.AssistantText != "" {
		a.textMu.Lock()
		if a.current(gen) {
			a.onText(resp.AssistantText)
		}
		a.textMu.Unlock()
	}

	audio, decodeErr := decodeAudio(resp.AudioData)
	if decodeErr != nil || len(audio) == 0 || a.player == nil {
		if decodeErr != nil {
			a.logger.Warn("discarding undecodable reply audio", "session_id", sessionID, "error", decodeErr)
		}
		if !a.finish(gen) {
			return nil, ErrCancelled
		}
		return resp, nil
	}

	pb, err := a.player.Play(context.Background(), audio, resp.AudioFormat)
	if err != nil {
		a.logger.Warn("audio playback failed", "session_id", sessionID, "error", err)
		if !a.finish(gen) {
			return nil, ErrCancelled
		}
		return resp, nil
	}

	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		pb.Stop()
		return nil, ErrCancelled
	}
	a.cancelReq = nil
	a.playback = pb
	a.audioStart = a.now()
	a.state.Phase = PhasePlaying
	a.state.HasActiveRequest = false
	a.state.IsAudioPlaying = true
	snap = a.snapshotLocked()
	a.mu.Unlock()
	a.publish(snap)

	go a.awaitPlayback(gen, pb)
	return resp, nil
}

// fail records a failed request unless it was superseded.
func (a *Agent) fail(ctx context.Context, gen uint64, err error) error {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return ErrCancelled
	}
	a.cancelReq = nil
	a.requestStart = time.Time{}
	a.state.IsLoading = false
	a.state.IsConnected = false
	a.state.HasActiveRequest = false
	a.state.IsAudioPlaying = false
	a.state.LastActivityTime = a.now()

	if ctx.Err() != nil {
		// The caller gave up; this is bookkeeping, not an error.
		a.state.Phase = PhaseAborted
		a.state.Error = ""
		snap := a.snapshotLocked()
		a.mu.Unlock()
		a.publish(snap)
		a.logger.Debug("turn aborted by caller", "session_id", snap.SessionID)
		return ErrCancelled
	}

	a.state.Phase = PhaseError
	a.state.Error = err.Error()
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.publish(snap)
	a.logger.Warn("turn failed", "session_id", snap.SessionID, "error", err)
	return err
}

// finish returns the agent to idle after a turn without playback.
func (a *Agent) finish(gen uint64) bool {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return false
	}
	a.cancelReq = nil
	a.requestStart = time.Time{}
	a.toIdleLocked()
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.publish(snap)
	return true
}

func (a *Agent) awaitPlayback(gen uint64, pb Playback) {
	<-pb.Done()
	a.mu.Lock()
	if gen != a.gen || a.playback != pb {
		a.mu.Unlock()
		return
	}
	a.playback = nil
	a.requestStart = time.Time{}
	a.toIdleLocked()
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.publish(snap)
}

// Cancel aborts the in-flight request, stops playback and returns to idle.
// Resources are released before Cancel returns. Safe to call when idle.
func (a *Agent) Cancel() {
	a.mu.Lock()
	stale := a.supersedeLocked()
	a.toIdleLocked()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	stale.release()
	a.awaitText()
	a.publish(snap)
	a.logger.Debug("turn cancelled", "session_id", snap.SessionID)
}

// ResetSession cancels any activity, asks the server to drop the old history
// and switches to a new session id. The server clear is best effort.
func (a *Agent) ResetSession(ctx context.Context) {
	a.Cancel()
	old := a.SessionID()

	clearCtx, cancel := context.WithTimeout(ctx, clearTimeout)
	if err := a.transport.ClearSession(clearCtx, old); err != nil {
		a.logger.Warn("failed to clear server session", "session_id", old, "error", err)
	}
	cancel()

	a.mu.Lock()
	a.gen++
	a.state.SessionID = a.newID()
	a.toIdleLocked()
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.publish(snap)
	a.logger.Debug("session reset", "old_session_id", old, "session_id", snap.SessionID)
}

// ActivitySnapshot reports current activity without changing state.
func (a *Agent) ActivitySnapshot() Activity {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	act := Activity{
		HasActiveRequest: a.state.HasActiveRequest,
		IsAudioPlaying:   a.state.IsAudioPlaying,
		AnyActivity:      a.state.HasActiveRequest || a.state.IsAudioPlaying,
		LastActivityTime: a.state.LastActivityTime,
	}
	if !a.state.LastActivityTime.IsZero() {
		act.SinceLastActivity = now.Sub(a.state.LastActivityTime)
	}
	if !a.audioStart.IsZero() {
		act.AudioPlayDuration = now.Sub(a.audioStart)
	}
	if a.state.HasActiveRequest && !a.requestStart.IsZero() {
		act.RequestDuration = now.Sub(a.requestStart)
	}
	return act
}

// current reports whether gen is still the live operation.
// awaitText waits for an OnText call of a superseded turn to return. Calls
// starting later see the new generation and are skipped.
func (a *Agent) awaitText() {
	a.textMu.Lock()
	a.textMu.Unlock()
}

func (a *Agent) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return gen == a.gen
}

// staleWork is what a superseded operation still holds.
type staleWork struct {
	cancel   context.CancelFunc
	playback Playback
}

func (s staleWork) release() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.playback != nil {
		s.playback.Stop()
	}
}

// supersedeLocked invalidates the running operation and detaches its handles.
func (a *Agent) supersedeLocked() staleWork {
	a.gen++
	s := staleWork{cancel: a.cancelReq, playback: a.playback}
	a.cancelReq = nil
	a.playback = nil
	a.requestStart = time.Time{}
	a.audioStart = time.Time{}
	return s
}

func (a *Agent) toIdleLocked() {
	a.audioStart = time.Time{}
	a.state.Phase = PhaseIdle
	a.state.IsLoading = false
	a.state.IsConnected = false
	a.state.HasActiveRequest = false
	a.state.IsAudioPlaying = false
	a.state.Error = ""
	a.state.LastActivityTime = a.now()
}

func (a *Agent) snapshotLocked() State {
	a.seq++
	a.state.seq = a.seq
	return a.state
}

func (a *Agent) publish(snap State) {
	a.subMu.Lock()
	if snap.seq <= a.published {
		a.subMu.Unlock()
		return
	}
	a.published = snap.seq
	fns := make([]func(State), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func decodeAudio(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(data)
}
