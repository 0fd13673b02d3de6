package capture

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type updates struct {
	mu   sync.Mutex
	list []Update
}

func (u *updates) add(up Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.list = append(u.list, up)
}

func (u *updates) snapshot() []Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Update(nil), u.list...)
}

func TestController_StartStopWithoutData(t *testing.T) {
	device := &MockDevice{Encodings: []string{"audio/webm;codecs=opus", "audio/webm"}}
	c := NewController(Config{Device: device})

	c.Start(context.Background(), nil)
	require.True(t, c.IsRecording())

	blob, err := c.Stop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Zero(t, blob.Len())
	assert.Equal(t, "audio/webm;codecs=opus", blob.MIMEType)
	assert.Equal(t, "recording.webm", blob.Filename())
	assert.False(t, c.IsRecording())
}

func TestController_StopWhenInactive(t *testing.T) {
	c := NewController(Config{Device: &MockDevice{}})

	blob, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.Zero(t, blob.Len())
	assert.Equal(t, "audio/webm", blob.MIMEType)
}

func TestController_CollectsChunksAndFinalFlush(t *testing.T) {
	device := &MockDevice{
		Encodings:  []string{"audio/webm"},
		Chunks:     [][]byte{[]byte("abc"), {}, []byte("def")},
		FinalChunk: []byte("ghi"),
	}
	c := NewController(Config{Device: device})

	c.Start(context.Background(), nil)
	blob, err := c.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []byte("abcdefghi"), blob.Data)
	assert.Equal(t, "audio/webm", blob.MIMEType)

	streams := device.Streams()
	require.Len(t, streams, 1)
	assert.False(t, streams[0].Active(), "tracks are stopped after Stop")
	require.Len(t, streams[0].Recorders(), 1)
	assert.Equal(t, 1, streams[0].Recorders()[0].Flushes())
}

func TestController_EncodingPreference(t *testing.T) {
	tests := []struct {
		name      string
		encodings []string
		fallback  string
		want      string
	}{
		{"opus preferred", []string{"audio/webm", "audio/webm;codecs=opus"}, "", "audio/webm;codecs=opus"},
		{"plain webm", []string{"audio/webm"}, "audio/mp4", "audio/webm"},
		{"device default", nil, "audio/mp4", "audio/mp4"},
		{"nothing reported", nil, "", "audio/webm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(Config{Device: &MockDevice{Encodings: tt.encodings, Default: tt.fallback}})
			c.Start(context.Background(), nil)
			blob, err := c.Stop(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, blob.MIMEType)
		})
	}
}

func TestController_PermissionDenied(t *testing.T) {
	device := &MockDevice{OpenErr: ErrPermissionDenied}
	c := NewController(Config{Device: device})

	assert.ErrorIs(t, c.RequestAccess(context.Background()), ErrPermissionDenied)

	var got updates
	c.Start(context.Background(), got.add)

	list := got.snapshot()
	require.Len(t, list, 1)
	assert.ErrorIs(t, list[0].Err, ErrPermissionDenied)
	assert.False(t, list[0].Recording)
	assert.False(t, c.IsRecording())
}

func TestController_NoDevice(t *testing.T) {
	c := NewController(Config{})
	assert.ErrorIs(t, c.RequestAccess(context.Background()), ErrUnsupported)
}

func TestController_RequestAccessReusesStream(t *testing.T) {
	device := &MockDevice{}
	c := NewController(Config{Device: device})

	require.NoError(t, c.RequestAccess(context.Background()))
	require.NoError(t, c.RequestAccess(context.Background()))
	c.Start(context.Background(), nil)
	assert.Equal(t, 1, device.Opens())

	_, err := c.Stop(context.Background())
	require.NoError(t, err)

	// The stream was released, so the next span acquires a new one.
	c.Start(context.Background(), nil)
	assert.Equal(t, 2, device.Opens())
	c.Cleanup()
}

func TestController_StartWhileRecordingIsNoop(t *testing.T) {
	device := &MockDevice{}
	c := NewController(Config{Device: device})

	c.Start(context.Background(), nil)
	c.Start(context.Background(), nil)

	streams := device.Streams()
	require.Len(t, streams, 1)
	assert.Len(t, streams[0].Recorders(), 1)
	c.Cleanup()
}

func TestController_ReportsElapsed(t *testing.T) {
	c := NewController(Config{Device: &MockDevice{}, TickInterval: 10 * time.Millisecond})

	var got updates
	c.Start(context.Background(), got.add)

	require.Eventually(t, func() bool {
		for _, u := range got.snapshot() {
			if u.Recording && u.Elapsed > 0 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	blob, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.Greater(t, blob.Duration, time.Duration(0))

	list := got.snapshot()
	require.NotEmpty(t, list)
	assert.Equal(t, Update{Recording: true}, list[0])
}

func TestController_ProgressCallbackMayCallBack(t *testing.T) {
	var c *Controller
	c = NewController(Config{Device: &MockDevice{}, TickInterval: 5 * time.Millisecond})

	ticked := make(chan struct{}, 1)
	c.Start(context.Background(), func(u Update) {
		_ = c.IsRecording()
		if u.Elapsed > 0 {
			select {
			case ticked <- struct{}{}:
			default:
			}
		}
	})
	<-ticked

	_, err := c.Stop(context.Background())
	require.NoError(t, err)
}

func TestController_StopIsBoundedByFlushTimeout(t *testing.T) {
	device := &MockDevice{Chunks: [][]byte{[]byte("partial")}, HangOnStop: true}
	c := NewController(Config{Device: device, FlushTimeout: 30 * time.Millisecond})

	c.Start(context.Background(), nil)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.span != nil && len(c.span.chunks) == 1
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	blob, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []byte("partial"), blob.Data)
	assert.False(t, device.Streams()[0].Active())
}

func TestController_StopHonorsContext(t *testing.T) {
	device := &MockDevice{HangOnStop: true}
	c := NewController(Config{Device: device, FlushTimeout: time.Hour})
	c.Start(context.Background(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blob, err := c.Stop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, blob)
	assert.False(t, device.Streams()[0].Active())
}

func TestController_LateChunksStayInTheirSpan(t *testing.T) {
	device := &MockDevice{FinalChunk: []byte("first-late"), FinalDelay: 100 * time.Millisecond}
	c := NewController(Config{Device: device, FlushTimeout: 20 * time.Millisecond})

	c.Start(context.Background(), nil)
	first, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.Zero(t, first.Len())

	c.Start(context.Background(), nil)
	require.Len(t, device.Streams(), 2)
	// give the first recorder time to deliver its late chunk
	time.Sleep(200 * time.Millisecond)

	second, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, string(second.Data), "first-late")
}

func TestController_CleanupIsIdempotent(t *testing.T) {
	device := &MockDevice{}
	c := NewController(Config{Device: device, TickInterval: 5 * time.Millisecond})

	c.Start(context.Background(), nil)
	c.Cleanup()
	c.Cleanup()

	assert.False(t, c.IsRecording())
	assert.False(t, device.Streams()[0].Active())

	blob, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.Zero(t, blob.Len())
}

func TestBlobFilename(t *testing.T) {
	tests := []struct {
		mimeType string
		want     string
	}{
		{"audio/webm;codecs=opus", "recording.webm"},
		{"audio/webm", "recording.webm"},
		{"audio/wav", "recording.wav"},
		{"audio/x-wav", "recording.wav"},
		{"audio/ogg; codecs=opus", "recording.ogg"},
		{"audio/mp4", "recording.mp4"},
		{"audio/mpeg", "recording.mp3"},
		{"audio/aac", "recording.aac"},
		{"", "recording.wav"},
		{"application/octet-stream", "recording.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			b := &Blob{MIMEType: tt.mimeType}
			assert.Equal(t, tt.want, b.Filename())
		})
	}
}

func writeAudioFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestFileDevice(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 4000)

	t.Run("whole file", func(t *testing.T) {
		path := writeAudioFile(t, "clip.wav", payload)
		c := NewController(Config{Device: &FileDevice{Path: path, ChunkSize: 1024}})

		c.Start(context.Background(), nil)
		blob, err := c.Stop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, payload, blob.Data)
		assert.Equal(t, "audio/wav", blob.MIMEType)
		assert.Equal(t, "recording.wav", blob.Filename())
	})

	t.Run("paced delivery is flushed on stop", func(t *testing.T) {
		path := writeAudioFile(t, "clip.webm", payload)
		c := NewController(Config{Device: &FileDevice{Path: path, ChunkSize: 1024, Interval: time.Hour}})

		c.Start(context.Background(), nil)
		blob, err := c.Stop(context.Background())
		require.NoError(t, err)
		assert.Equal(t, payload, blob.Data)
		assert.Equal(t, "audio/webm", blob.MIMEType)
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeAudioFile(t, "silence.ogg", nil)
		c := NewController(Config{Device: &FileDevice{Path: path}})

		c.Start(context.Background(), nil)
		blob, err := c.Stop(context.Background())
		require.NoError(t, err)
		assert.Zero(t, blob.Len())
		assert.Equal(t, "audio/ogg", blob.MIMEType)
	})

	t.Run("missing file", func(t *testing.T) {
		d := &FileDevice{Path: filepath.Join(t.TempDir(), "nope.wav")}
		_, err := d.Open(context.Background())
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("no path", func(t *testing.T) {
		_, err := (&FileDevice{}).Open(context.Background())
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("explicit type", func(t *testing.T) {
		d := &FileDevice{Path: "clip.bin", MIMEType: "audio/aac"}
		assert.Equal(t, "audio/aac", d.DefaultEncoding())
		assert.True(t, d.SupportsEncoding("audio/aac"))
		assert.False(t, d.SupportsEncoding("audio/webm"))
	})
}
