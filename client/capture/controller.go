package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTickInterval is how often Start reports elapsed time.
	DefaultTickInterval = time.Second
	// DefaultFlushTimeout bounds how long Stop waits for the recorder's final data.
	DefaultFlushTimeout = 5 * time.Second
)

// Update is a progress report delivered to the Start callback.
type Update struct {
	Recording bool
	Elapsed   time.Duration
	Err       error
}

// span buffers one recording. Once sealed, late chunks from its recorder are dropped.
type span struct {
	chunks [][]byte
	sealed bool
}

// Config configures a Controller.
type Config struct {
	Device       Device
	Logger       *slog.Logger
	TickInterval time.Duration
	FlushTimeout time.Duration
}

// Controller owns microphone access and turns one recording span into a Blob.
// All methods are safe for concurrent use.
type Controller struct {
	device       Device
	logger       *slog.Logger
	tickInterval time.Duration
	flushTimeout time.Duration
	now          func() time.Time

	mu        sync.Mutex
	stream    Stream
	recorder  Recorder
	mimeType  string
	span      *span
	startedAt time.Time
	collected chan struct{}
	stopTick  chan struct{}
	tickDone  chan struct{}
}

// NewController creates a controller for cfg.Device.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	return &Controller{
		device:       cfg.Device,
		logger:       cfg.Logger,
		tickInterval: cfg.TickInterval,
		flushTimeout: cfg.FlushTimeout,
		now:          time.Now,
	}
}

// RequestAccess acquires a capture stream unless an active one is already held.
func (c *Controller) RequestAccess(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestAccessLocked(ctx)
}

func (c *Controller) requestAccessLocked(ctx context.Context) error {
	if c.device == nil {
		return ErrUnsupported
	}
	if c.stream != nil && c.stream.Active() {
		return nil
	}
	stream, err := c.device.Open(ctx)
	if err != nil {
		return err
	}
	c.stream = stream
	return nil
}

// IsRecording reports whether a recording span is in progress.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorder != nil
}

// Start begins a recording span. It is a no-op while already recording.
// Failures are reported through onUpdate, which may be nil.
func (c *Controller) Start(ctx context.Context, onUpdate func(Update)) {
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}

	c.mu.Lock()
	if err := c.requestAccessLocked(ctx); err != nil {
		c.mu.Unlock()
		c.logger.Warn("capture access failed", "error", err)
		onUpdate(Update{Err: err})
		return
	}
	if c.recorder != nil {
		c.mu.Unlock()
		return
	}

	mimeType := chooseEncoding(c.device)
	recorder, err := c.stream.NewRecorder(mimeType)
	if err == nil {
		var chunks <-chan []byte
		if chunks, err = recorder.Start(); err == nil {
			c.begin(recorder, mimeType, chunks, onUpdate)
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("failed to start recorder", "mime_type", mimeType, "error", err)
		onUpdate(Update{Err: err})
		return
	}
	c.logger.Debug("recording started", "mime_type", c.blobType(recorder, mimeType))
}

// begin records the span state. Requires c.mu.
func (c *Controller) begin(recorder Recorder, mimeType string, chunks <-chan []byte, onUpdate func(Update)) {
	c.recorder = recorder
	c.mimeType = mimeType
	c.span = &span{}
	c.startedAt = c.now()
	c.collected = make(chan struct{})
	c.stopTick = make(chan struct{})
	c.tickDone = make(chan struct{})

	go c.collect(c.span, chunks, c.collected)
	go c.tick(c.startedAt, onUpdate, c.stopTick, c.tickDone)
}

func (c *Controller) collect(sp *span, chunks <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		c.mu.Lock()
		if sp.sealed {
			c.mu.Unlock()
			c.logger.Debug("dropped chunk from finished recording", "bytes", len(chunk))
			continue
		}
		sp.chunks = append(sp.chunks, chunk)
		c.mu.Unlock()
	}
}

func (c *Controller) tick(startedAt time.Time, onUpdate func(Update), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	onUpdate(Update{Recording: true})
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			onUpdate(Update{Recording: true, Elapsed: c.now().Sub(startedAt)})
		}
	}
}

// Stop finalizes the span and releases the stream. When no span is active it
// returns whatever is buffered, possibly an empty blob. Stop waits at most
// the flush timeout for the recorder's last chunk; on ctx cancellation it
// returns the buffered data together with ctx.Err().
func (c *Controller) Stop(ctx context.Context) (*Blob, error) {
	c.mu.Lock()
	recorder := c.recorder
	if recorder == nil {
		blob := c.blobLocked(0)
		c.mu.Unlock()
		return blob, nil
	}
	sp, collected, mimeType, startedAt := c.span, c.collected, c.mimeType, c.startedAt
	tickDone := c.stopTimerLocked()
	c.recorder = nil
	c.mu.Unlock()
	<-tickDone

	recorder.Flush()
	recorder.Stop()

	var waitErr error
	timer := time.NewTimer(c.flushTimeout)
	defer timer.Stop()
	select {
	case <-collected:
	case <-timer.C:
		c.logger.Warn("recorder did not flush in time", "timeout", c.flushTimeout)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	c.mu.Lock()
	sp.sealed = true
	c.mimeType = c.blobType(recorder, mimeType)
	blob := c.blobLocked(c.now().Sub(startedAt))
	c.releaseStreamLocked()
	c.mu.Unlock()

	c.logger.Debug("recording stopped", "mime_type", blob.MIMEType, "bytes", blob.Len())
	return blob, waitErr
}

// Cleanup tears down the timer, the recorder and the stream. Idempotent.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	tickDone := c.stopTimerLocked()
	if c.recorder != nil {
		c.recorder.Stop()
		c.recorder = nil
	}
	if c.span != nil {
		c.span.sealed = true
	}
	c.releaseStreamLocked()
	c.mu.Unlock()
	<-tickDone
}

// stopTimerLocked signals the tick goroutine and returns a channel closed once
// it has exited. Wait on it without holding c.mu: the progress callback may
// call back into the controller.
func (c *Controller) stopTimerLocked() <-chan struct{} {
	if c.stopTick == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	close(c.stopTick)
	c.stopTick = nil
	return c.tickDone
}

func (c *Controller) releaseStreamLocked() {
	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}
}

func (c *Controller) blobType(recorder Recorder, mimeType string) string {
	if mimeType != "" {
		return mimeType
	}
	if recorder != nil && recorder.MIMEType() != "" {
		return recorder.MIMEType()
	}
	if c.device != nil && c.device.DefaultEncoding() != "" {
		return c.device.DefaultEncoding()
	}
	return fallbackMIMEType
}

func (c *Controller) blobLocked(d time.Duration) *Blob {
	var chunks [][]byte
	if c.span != nil {
		chunks = c.span.chunks
	}
	size := 0
	for _, chunk := range chunks {
		size += len(chunk)
	}
	data := make([]byte, 0, size)
	for _, chunk := range chunks {
		data = append(data, chunk...)
	}
	mimeType := c.mimeType
	if mimeType == "" {
		mimeType = fallbackMIMEType
	}
	return &Blob{Data: data, MIMEType: mimeType, Duration: d}
}
