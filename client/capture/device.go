// Package capture records one span of audio from a capture device into an encoded blob.
package capture

import (
	"context"
	"errors"
	"mime"
	"strings"
	"time"
)

var (
	// ErrPermissionDenied is returned when the user or OS refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrUnsupported is returned when no capture device is available.
	ErrUnsupported = errors.New("audio capture is not supported")
)

// Device is a source of audio streams.
type Device interface {
	// Open acquires a live stream. It returns ErrPermissionDenied or
	// ErrUnsupported (possibly wrapped) when access cannot be granted.
	Open(ctx context.Context) (Stream, error)
	// SupportsEncoding reports whether a recorder can produce mimeType.
	SupportsEncoding(mimeType string) bool
	// DefaultEncoding is the container used when no preferred encoding is supported.
	DefaultEncoding() string
}

// Stream is an acquired capture stream.
type Stream interface {
	Active() bool
	// NewRecorder creates an encoder for mimeType. An empty mimeType selects the device default.
	NewRecorder(mimeType string) (Recorder, error)
	// Stop stops every track of the stream. Safe to call more than once.
	Stop()
}

// Recorder encodes a stream into chunks.
type Recorder interface {
	// Start begins encoding. Chunks arrive on the returned channel, which is
	// closed after Stop has delivered the remaining buffered data.
	Start() (<-chan []byte, error)
	// Flush asks the recorder to deliver what it has buffered so far.
	Flush()
	// Stop ends encoding. Safe to call more than once.
	Stop()
	MIMEType() string
}

// PreferredEncodings are tried in order before falling back to the device default.
var PreferredEncodings = []string{"audio/webm;codecs=opus", "audio/webm"}

// fallbackMIMEType labels a blob whose recorder never reported a container.
const fallbackMIMEType = "audio/webm"

// Blob is one finished recording.
type Blob struct {
	Data     []byte
	MIMEType string
	// Duration is the wall time between Start and Stop, zero when unknown.
	Duration time.Duration
}

// Len returns the encoded size in bytes.
func (b *Blob) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

var extensions = map[string]string{
	"audio/webm":  ".webm",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
	"audio/ogg":   ".ogg",
	"audio/mp4":   ".mp4",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/aac":   ".aac",
}

// Filename returns the upload name matching the blob's container, e.g. recording.webm.
func (b *Blob) Filename() string {
	ext, ok := extensions[baseType(b.MIMEType)]
	if !ok {
		ext = ".wav"
	}
	return "recording" + ext
}

func baseType(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType, _, _ = strings.Cut(mimeType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// chooseEncoding returns the first preferred encoding the device supports, or "".
func chooseEncoding(d Device) string {
	for _, enc := range PreferredEncodings {
		if d.SupportsEncoding(enc) {
			return enc
		}
	}
	return ""
}
