package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultChunkSize is the size of each chunk a FileDevice delivers.
const DefaultChunkSize = 16 * 1024

// FileDevice captures from an audio file already on disk. With a positive
// Interval the file is delivered one chunk per interval, as a live device
// would; the remainder is flushed when the recorder stops.
type FileDevice struct {
	Path string
	// MIMEType overrides the container derived from the file extension.
	MIMEType  string
	ChunkSize int
	Interval  time.Duration
}

var extensionTypes = map[string]string{
	".webm": "audio/webm",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".mp4":  "audio/mp4",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
}

// Open implements Device.
func (d *FileDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Path == "" {
		return nil, ErrUnsupported
	}
	f, err := os.Open(d.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	f.Close()

	s := &fileStream{device: d}
	s.active.Store(true)
	return s, nil
}

// SupportsEncoding implements Device. A file has exactly one encoding.
func (d *FileDevice) SupportsEncoding(mimeType string) bool {
	return mimeType == d.DefaultEncoding()
}

// DefaultEncoding implements Device.
func (d *FileDevice) DefaultEncoding() string {
	if d.MIMEType != "" {
		return d.MIMEType
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(d.Path))]; ok {
		return t
	}
	return ""
}

type fileStream struct {
	device *FileDevice
	active atomic.Bool
}

func (s *fileStream) Active() bool { return s.active.Load() }

func (s *fileStream) Stop() { s.active.Store(false) }

func (s *fileStream) NewRecorder(mimeType string) (Recorder, error) {
	if !s.Active() {
		return nil, errors.New("stream is not active")
	}
	if mimeType == "" {
		mimeType = s.device.DefaultEncoding()
	}
	size := s.device.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &fileRecorder{
		path:      s.device.Path,
		mimeType:  mimeType,
		chunkSize: size,
		interval:  s.device.Interval,
		stop:      make(chan struct{}),
	}, nil
}

type fileRecorder struct {
	path      string
	mimeType  string
	chunkSize int
	interval  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

func (r *fileRecorder) MIMEType() string { return r.mimeType }

// Flush is a no-op: chunks are handed over as soon as they are read.
func (r *fileRecorder) Flush() {}

func (r *fileRecorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *fileRecorder) Start() (<-chan []byte, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	out := make(chan []byte)
	go r.run(f, out)
	return out, nil
}

func (r *fileRecorder) run(f *os.File, out chan<- []byte) {
	defer close(out)
	defer f.Close()

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-r.stop:
				r.drain(f, out)
				return
			case <-tick:
			}
		} else {
			select {
			case <-r.stop:
				r.drain(f, out)
				return
			default:
			}
		}

		chunk, err := r.read(f)
		if len(chunk) > 0 {
			out <- chunk
		}
		if err != nil {
			// End of input: hold the channel open until stopped, like a silent microphone.
			<-r.stop
			return
		}
	}
}

func (r *fileRecorder) drain(f *os.File, out chan<- []byte) {
	for {
		chunk, err := r.read(f)
		if len(chunk) > 0 {
			out <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (r *fileRecorder) read(f *os.File) ([]byte, error) {
	buf := make([]byte, r.chunkSize)
	n, err := io.ReadFull(f, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return buf[:n], err
}
