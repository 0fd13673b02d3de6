package agent

import "time"

// Phase is the coarse position of the agent in a turn.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRequesting Phase = "requesting"
	PhasePlaying    Phase = "playing"
	// PhaseAborted follows a turn whose caller context ended before the reply arrived.
	PhaseAborted Phase = "aborted"
	PhaseError   Phase = "error"
)

// State is the observable agent state. Observers receive copies.
type State struct {
	SessionID        string
	Phase            Phase
	IsLoading        bool
	IsConnected      bool
	HasActiveRequest bool
	IsAudioPlaying   bool
	// Error is a human-readable message, empty unless Phase is PhaseError.
	Error            string
	LastActivityTime time.Time

	seq uint64
}

// Activity describes what the agent is doing right now.
type Activity struct {
	HasActiveRequest bool
	IsAudioPlaying   bool
	AnyActivity      bool
	LastActivityTime time.Time
	// SinceLastActivity is zero when nothing has happened yet.
	SinceLastActivity time.Duration
	// AudioPlayDuration is how long the current reply has been playing.
	AudioPlayDuration time.Duration
	// RequestDuration is how long the in-flight request has been running.
	RequestDuration time.Duration
}
