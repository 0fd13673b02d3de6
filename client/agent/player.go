package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Player plays synthesized replies.
type Player interface {
	// Play starts playback and returns without waiting for it to finish.
	Play(ctx context.Context, audio []byte, format string) (Playback, error)
}

// Playback is one reply being played.
type Playback interface {
	// Done is closed when playback ends, naturally or through Stop.
	Done() <-chan struct{}
	// Stop halts playback and releases its resources. Safe to call more than once.
	Stop()
}

// FilePlayer "plays" a reply by writing it to Dir. Playback ends once the file is written.
type FilePlayer struct {
	Dir string

	n atomic.Int64
}

// Play implements Player.
func (p *FilePlayer) Play(_ context.Context, audio []byte, format string) (Playback, error) {
	if format == "" {
		format = "mp3"
	}
	name := filepath.Join(p.Dir, fmt.Sprintf("reply-%03d.%s", p.n.Add(1), format))
	if err := os.WriteFile(name, audio, 0o644); err != nil {
		return nil, fmt.Errorf("write reply audio: %w", err)
	}
	pb := newPlayback()
	pb.Stop()
	return pb, nil
}

// LastFile returns the path of the most recent reply, or "" before the first.
func (p *FilePlayer) LastFile(format string) string {
	n := p.n.Load()
	if n == 0 {
		return ""
	}
	if format == "" {
		format = "mp3"
	}
	return filepath.Join(p.Dir, fmt.Sprintf("reply-%03d.%s", n, format))
}

// playback is a Playback completed by Stop.
type playback struct {
	done chan struct{}
	once sync.Once
}

func newPlayback() *playback {
	return &playback{done: make(chan struct{})}
}

func (p *playback) Done() <-chan struct{} { return p.done }

func (p *playback) Stop() { p.once.Do(func() { close(p.done) }) }
