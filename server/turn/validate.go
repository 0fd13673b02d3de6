package turn

import (
	"bytes"
	"fmt"
	"mime"
	"slices"
	"strings"

	"github.com/hrygo/parrotalk/server/internal/errors"
)

// DefaultMaxAudioBytes is the upload cap applied when none is configured.
const DefaultMaxAudioBytes = 25 * 1024 * 1024

// AllowedAudioTypes lists the accepted media types, without parameters.
var AllowedAudioTypes = []string{
	"audio/wav",
	"audio/webm",
	"audio/mp4",
	"audio/mpeg",
	"audio/ogg",
	"audio/aac",
}

// ValidationConfig bounds what an uploaded recording may look like.
type ValidationConfig struct {
	MaxBytes int64
	// CheckSignature requires the leading bytes to match a known container.
	CheckSignature bool
}

// ValidateAudio checks a recording before any upstream call is made.
func ValidateAudio(a *Audio, cfg ValidationConfig) error {
	if a == nil || a.Data == nil {
		return errors.InvalidArgument("No audio file provided")
	}
	if len(a.Data) == 0 {
		return errors.InvalidArgument("File is empty")
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAudioBytes
	}
	if int64(len(a.Data)) > maxBytes {
		return errors.InvalidArgument(fmt.Sprintf("File size exceeds limit (max: %dMB)", maxBytes/1024/1024))
	}

	mediaType := BaseMediaType(a.MIMEType)
	if !slices.Contains(AllowedAudioTypes, mediaType) {
		return errors.InvalidArgument(fmt.Sprintf("Unsupported file type: %s. Allowed types: %s",
			a.MIMEType, strings.Join(AllowedAudioTypes, ", ")))
	}

	if strings.Contains(a.Filename, "..") || strings.ContainsAny(a.Filename, `/\`) {
		return errors.InvalidArgument("Invalid file name")
	}

	if cfg.CheckSignature && DetectContainer(a.Data) == "" {
		return errors.InvalidArgument("File signature does not match declared type")
	}
	return nil
}

// BaseMediaType strips parameters such as ";codecs=opus" and lowercases the type.
func BaseMediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

var (
	sigRIFF = []byte("RIFF")
	sigWAVE = []byte("WAVE")
	sigID3  = []byte("ID3")
	sigFtyp = []byte("ftyp")
	sigOgg  = []byte("OggS")
	sigEBML = []byte{0x1a, 0x45, 0xdf, 0xa3}
)

// DetectContainer names the audio container by its magic number, or returns
// "" when none matches.
func DetectContainer(data []byte) string {
	switch {
	case bytes.HasPrefix(data, sigRIFF) && len(data) >= 12 && bytes.Equal(data[8:12], sigWAVE):
		return "wav"
	case bytes.HasPrefix(data, sigEBML):
		return "webm"
	case bytes.HasPrefix(data, sigOgg):
		return "ogg"
	case len(data) >= 8 && bytes.Equal(data[4:8], sigFtyp):
		return "mp4"
	case bytes.HasPrefix(data, sigID3):
		return "mp3"
	case len(data) >= 2 && data[0] == 0xff && data[1]&0xf6 == 0xf0:
		// ADTS sync word with layer bits 00
		return "aac"
	case len(data) >= 2 && data[0] == 0xff && data[1]&0xe0 == 0xe0:
		return "mp3"
	}
	return ""
}
