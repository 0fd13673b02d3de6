package session

import (
	"context"
	"testing"
	"time"
)

func TestSessionCleanupJob(t *testing.T) {
	ctx := context.Background()

	t.Run("NewSessionCleanupJob_DefaultConfig", func(t *testing.T) {
		job := NewSessionCleanupJob(NewMockHistoryStore(), CleanupConfig{})

		if job.config.IdleTTL != DefaultIdleTTL {
			t.Errorf("expected default idle ttl %v, got %v", DefaultIdleTTL, job.config.IdleTTL)
		}
		if job.config.CleanupInterval != DefaultCleanupInterval {
			t.Errorf("expected default cleanup interval %v, got %v", DefaultCleanupInterval, job.config.CleanupInterval)
		}
	})

	t.Run("RunOnce_EvictsIdleSessions", func(t *testing.T) {
		mock := NewMockHistoryStore()
		mock.SetSessionDirectly(&History{SessionID: "old-session", UpdatedAt: 1000000})
		if err := mock.Save(ctx, &History{SessionID: "recent-session"}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		job := NewSessionCleanupJob(mock, CleanupConfig{IdleTTL: time.Hour})
		deleted, err := job.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		if deleted != 1 {
			t.Errorf("expected 1 deleted, got %d", deleted)
		}

		if loaded, _ := mock.Load(ctx, "old-session"); loaded != nil {
			t.Error("old session should be deleted")
		}
		if loaded, _ := mock.Load(ctx, "recent-session"); loaded == nil {
			t.Error("recent session should still exist")
		}
	})

	t.Run("StartStop", func(t *testing.T) {
		job := NewSessionCleanupJob(NewMockHistoryStore(), CleanupConfig{CleanupInterval: 10 * time.Millisecond})

		if err := job.Start(ctx); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if err := job.Start(ctx); err != nil {
			t.Fatalf("second Start failed: %v", err)
		}
		if !job.IsRunning() {
			t.Error("job should be running after Start")
		}

		time.Sleep(30 * time.Millisecond)
		job.Stop()
		job.Stop()

		if job.IsRunning() {
			t.Error("job should not be running after Stop")
		}
	})
}
