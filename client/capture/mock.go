package capture

import (
	"context"
	"sync"
	"time"
)

// MockDevice is a scriptable Device for tests.
type MockDevice struct {
	OpenErr   error
	Encodings []string
	Default   string
	// Chunks are delivered right after the recorder starts.
	Chunks [][]byte
	// FinalChunk is delivered when the recorder stops.
	FinalChunk []byte
	// FinalDelay postpones FinalChunk after Stop.
	FinalDelay time.Duration
	// HangOnStop keeps the chunk channel open after Stop.
	HangOnStop bool

	mu      sync.Mutex
	opens   int
	streams []*MockStream
}

// Open implements Device.
func (d *MockDevice) Open(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := &MockStream{device: d, active: true}
	d.streams = append(d.streams, s)
	return s, nil
}

// SupportsEncoding implements Device.
func (d *MockDevice) SupportsEncoding(mimeType string) bool {
	for _, enc := range d.Encodings {
		if enc == mimeType {
			return true
		}
	}
	return false
}

// DefaultEncoding implements Device.
func (d *MockDevice) DefaultEncoding() string {
	return d.Default
}

// Opens returns how many times Open was called.
func (d *MockDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Streams returns every stream handed out so far.
func (d *MockDevice) Streams() []*MockStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockStream(nil), d.streams...)
}

// MockStream is the Stream returned by MockDevice.
type MockStream struct {
	device *MockDevice

	mu        sync.Mutex
	active    bool
	recorders []*MockRecorder
}

// Active implements Stream.
func (s *MockStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop implements Stream.
func (s *MockStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// NewRecorder implements Stream.
func (s *MockStream) NewRecorder(mimeType string) (Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mimeType == "" {
		mimeType = s.device.Default
	}
	r := &MockRecorder{
		mimeType: mimeType,
		chunks:   s.device.Chunks,
		final:    s.device.FinalChunk,
		delay:    s.device.FinalDelay,
		hang:     s.device.HangOnStop,
		stop:     make(chan struct{}),
	}
	s.recorders = append(s.recorders, r)
	return r, nil
}

// Recorders returns the recorders created on this stream.
func (s *MockStream) Recorders() []*MockRecorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MockRecorder(nil), s.recorders...)
}

// MockRecorder is the Recorder returned by MockStream.
type MockRecorder struct {
	mimeType string
	chunks   [][]byte
	final    []byte
	delay    time.Duration
	hang     bool

	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	flushes  int
}

// Start implements Recorder.
func (r *MockRecorder) Start() (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		for _, chunk := range r.chunks {
			out <- chunk
		}
		<-r.stop
		if r.delay > 0 {
			time.Sleep(r.delay)
		}
		if r.final != nil {
			out <- r.final
		}
		if !r.hang {
			close(out)
		}
	}()
	return out, nil
}

// Flush implements Recorder.
func (r *MockRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
}

// Flushes returns how many times Flush was called.
func (r *MockRecorder) Flushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}

// Stop implements Recorder.
func (r *MockRecorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// MIMEType implements Recorder.
func (r *MockRecorder) MIMEType() string {
	return r.mimeType
}
