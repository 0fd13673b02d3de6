// Package timeout defines centralized timeout constants for upstream AI calls.
package timeout

import "time"

const (
	// TranscriptionTimeout bounds one speech-to-text request. Uploads can be up to 25 MiB.
	TranscriptionTimeout = 60 * time.Second

	// ChatTimeout bounds one chat completion.
	ChatTimeout = 30 * time.Second

	// SpeechTimeout bounds one text-to-speech request.
	SpeechTimeout = 30 * time.Second

	// PersistTimeout bounds the best-effort conversation insert, including its retry.
	PersistTimeout = 10 * time.Second

	// TurnTimeout bounds a whole turn on the server.
	TurnTimeout = 2 * time.Minute

	// IdentityTimeout bounds a bearer token lookup against the auth API.
	IdentityTimeout = 5 * time.Second

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	MaxTruncateLength = 200
)

// Truncate shortens s to MaxTruncateLength runes for logging.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxTruncateLength {
		return s
	}
	return string(r[:MaxTruncateLength]) + "..."
}
