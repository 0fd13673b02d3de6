package ratebudget

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGuard() (*MemoryGuard, *fakeClock) {
	clock := newFakeClock()
	g := NewMemoryGuard()
	g.SetClock(clock.Now)
	return g, clock
}

func TestCheckRequestRate_Window(t *testing.T) {
	ctx := context.Background()
	g, clock := newTestGuard()

	var got []bool
	var last RateResult
	for i := 0; i < 4; i++ {
		res, err := g.CheckRequestRate(ctx, "user-1", 3, time.Minute)
		require.NoError(t, err)
		got = append(got, res.Allowed)
		last = res
	}
	assert.Equal(t, []bool{true, true, true, false}, got)
	assert.Equal(t, 0, last.Remaining)
	assert.Equal(t, time.Minute, last.RetryAfter)
	assert.Equal(t, clock.Now().Add(time.Minute), last.ResetTime)

	t.Run("other keys are independent", func(t *testing.T) {
		res, err := g.CheckRequestRate(ctx, "user-2", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2, res.Remaining)
	})

	t.Run("window slides", func(t *testing.T) {
		clock.Advance(time.Minute)
		res, err := g.CheckRequestRate(ctx, "user-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2, res.Remaining)
	})
}

func TestCheckRequestRate_RejectedNotRecorded(t *testing.T) {
	ctx := context.Background()
	g, clock := newTestGuard()

	for i := 0; i < 5; i++ {
		_, err := g.CheckRequestRate(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	st, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ActiveKeys)
	assert.Equal(t, 2, st.TotalRequests)
}

func TestCheckRequestRate_Concurrent(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGuard()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := g.CheckRequestRate(ctx, "shared", 10, time.Minute)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), allowed.Load())
}

func TestCheckCostBudget_Concurrent(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGuard()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := g.CheckCostBudget(ctx, "shared", 0.125, 5)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(40), allowed.Load())

	res, err := g.CheckCostBudget(ctx, "shared", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Spent)
	assert.Zero(t, res.Remaining)
}

func TestCheckCostBudget(t *testing.T) {
	ctx := context.Background()
	g, clock := newTestGuard()
	start := clock.Now()

	first, err := g.CheckCostBudget(ctx, "user-1", 4, 10)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 4.0, first.Spent)
	assert.Equal(t, 6.0, first.Remaining)
	assert.Equal(t, start.Add(time.Hour), first.ResetTime)

	second, err := g.CheckCostBudget(ctx, "user-1", 7, 10)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Equal(t, 4.0, second.Spent)
	assert.Equal(t, 6.0, second.Remaining)

	t.Run("exact budget is allowed", func(t *testing.T) {
		res, err := g.CheckCostBudget(ctx, "user-1", 6, 10)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 0.0, res.Remaining)
	})

	t.Run("period resets after the boundary", func(t *testing.T) {
		clock.Advance(time.Hour + time.Second)
		res, err := g.CheckCostBudget(ctx, "user-1", 7, 10)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 7.0, res.Spent)
		assert.Equal(t, clock.Now().Add(time.Hour), res.ResetTime)
	})
}

func TestResetAndResetAll(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard()

	for _, key := range []string{"a", "b"} {
		_, err := g.CheckRequestRate(ctx, key, 1, time.Minute)
		require.NoError(t, err)
		_, err = g.CheckCostBudget(ctx, key, 1, 1)
		require.NoError(t, err)
	}

	require.NoError(t, g.Reset(ctx, "a"))
	res, err := g.CheckRequestRate(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = g.CheckRequestRate(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	require.NoError(t, g.ResetAll(ctx))
	st, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	g, clock := newTestGuard()

	_, err := g.CheckRequestRate(ctx, "old", 5, time.Minute)
	require.NoError(t, err)
	_, err = g.CheckCostBudget(ctx, "old", 1, 10)
	require.NoError(t, err)

	clock.Advance(23 * time.Hour)
	_, err = g.CheckRequestRate(ctx, "fresh", 5, time.Minute)
	require.NoError(t, err)

	removed, err := g.Cleanup(ctx, DefaultMaxIdle)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	clock.Advance(2 * time.Hour)
	removed, err = g.Cleanup(ctx, DefaultMaxIdle)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	st, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ActiveKeys)
	assert.Equal(t, 0, st.BudgetKeys)
}

func TestCleanupJob(t *testing.T) {
	g, clock := newTestGuard()
	_, err := g.CheckRequestRate(context.Background(), "k", 1, time.Minute)
	require.NoError(t, err)
	clock.Advance(25 * time.Hour)

	job := NewCleanupJob(g, 0, 10*time.Millisecond)
	job.Start(context.Background())
	job.Start(context.Background())
	assert.True(t, job.IsRunning())

	assert.Eventually(t, func() bool {
		st, _ := g.Stats(context.Background())
		return st.ActiveKeys == 0
	}, time.Second, 10*time.Millisecond)

	job.Stop()
	job.Stop()
	assert.False(t, job.IsRunning())
}
