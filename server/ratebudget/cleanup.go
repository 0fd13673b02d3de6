package ratebudget

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCleanupInterval is the default interval between reclamation runs.
const DefaultCleanupInterval = time.Hour

// CleanupJob periodically reclaims idle guard keys.
type CleanupJob struct {
	guard    Guard
	maxIdle  time.Duration
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewCleanupJob creates a cleanup job. Zero durations select the defaults
// (24h idle, hourly runs).
func NewCleanupJob(guard Guard, maxIdle, interval time.Duration) *CleanupJob {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupJob{
		guard:    guard,
		maxIdle:  maxIdle,
		interval: interval,
	}
}

// Start begins the periodic cleanup in a goroutine.
func (j *CleanupJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}
	j.running = true
	j.stopChan = make(chan struct{})
	j.done = make(chan struct{})

	go j.run(ctx, j.stopChan, j.done)

	slog.Info("rate budget cleanup job started", "max_idle", j.maxIdle, "interval", j.interval)
}

// Stop stops the job and waits for the loop to exit.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopChan)
	j.running = false
	done := j.done
	j.mu.Unlock()

	<-done
}

// RunOnce executes a single reclamation immediately.
func (j *CleanupJob) RunOnce(ctx context.Context) (int, error) {
	return j.guard.Cleanup(ctx, j.maxIdle)
}

// IsRunning returns whether the job loop is active.
func (j *CleanupJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *CleanupJob) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if removed, err := j.RunOnce(ctx); err != nil {
				slog.Error("rate budget cleanup failed", "error", err)
			} else if removed > 0 {
				slog.Debug("rate budget cleanup completed", "removed", removed)
			}
		}
	}
}
