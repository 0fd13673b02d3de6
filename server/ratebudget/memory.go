package ratebudget

import (
	"context"
	"sync"
	"time"
)

type rateEntry struct {
	mu       sync.Mutex
	stamps   []time.Time
	lastSeen time.Time
	// removed is set by Cleanup; holders must look the key up again.
	removed bool
}

type budgetEntry struct {
	mu       sync.Mutex
	total    float64
	resetAt  time.Time
	lastSeen time.Time
	removed  bool
}

// MemoryGuard is a single-process Guard. The map lock is only held to find
// or create an entry; the check itself runs under the entry's own lock.
type MemoryGuard struct {
	mu      sync.Mutex
	rates   map[string]*rateEntry
	budgets map[string]*budgetEntry
	now     func() time.Time
}

// NewMemoryGuard creates an in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		rates:   make(map[string]*rateEntry),
		budgets: make(map[string]*budgetEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (g *MemoryGuard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

func (g *MemoryGuard) clock() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now()
}

func (g *MemoryGuard) rateEntry(key string) *rateEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.rates[key]
	if !ok {
		e = &rateEntry{}
		g.rates[key] = e
	}
	return e
}

func (g *MemoryGuard) budgetEntry(key string) *budgetEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.budgets[key]
	if !ok {
		e = &budgetEntry{}
		g.budgets[key] = e
	}
	return e
}

// CheckRequestRate implements Guard.
func (g *MemoryGuard) CheckRequestRate(_ context.Context, key string, maxRequests int, window time.Duration) (RateResult, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	for {
		e := g.rateEntry(key)
		now := g.clock()

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		res := e.check(now, maxRequests, window)
		e.mu.Unlock()
		return res, nil
	}
}

func (e *rateEntry) check(now time.Time, maxRequests int, window time.Duration) RateResult {
	kept := e.stamps[:0]
	for _, t := range e.stamps {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	e.stamps = kept
	e.lastSeen = now

	allowed := len(e.stamps) < maxRequests
	if allowed {
		e.stamps = append(e.stamps, now)
	}

	reset := now.Add(window)
	if len(e.stamps) > 0 {
		reset = e.stamps[0].Add(window)
	}

	res := RateResult{
		Allowed:   allowed,
		Remaining: max(0, maxRequests-len(e.stamps)),
		ResetTime: reset,
	}
	if !allowed {
		res.RetryAfter = max(0, reset.Sub(now))
	}
	return res
}

// CheckCostBudget implements Guard.
func (g *MemoryGuard) CheckCostBudget(_ context.Context, key string, estimatedCost, hourlyBudget float64) (BudgetResult, error) {
	for {
		e := g.budgetEntry(key)
		now := g.clock()

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if e.resetAt.IsZero() || now.After(e.resetAt) {
			e.total = 0
			e.resetAt = now.Add(BudgetPeriod)
		}
		e.lastSeen = now

		allowed := e.total+estimatedCost <= hourlyBudget
		if allowed {
			e.total += estimatedCost
		}
		res := BudgetResult{
			Allowed:   allowed,
			Spent:     e.total,
			Remaining: max(0, hourlyBudget-e.total),
			ResetTime: e.resetAt,
		}
		e.mu.Unlock()
		return res, nil
	}
}

// Reset implements Guard.
func (g *MemoryGuard) Reset(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.rates[key]; ok {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
		delete(g.rates, key)
	}
	if e, ok := g.budgets[key]; ok {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
		delete(g.budgets, key)
	}
	return nil
}

// ResetAll implements Guard.
func (g *MemoryGuard) ResetAll(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.rates {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	for _, e := range g.budgets {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	g.rates = make(map[string]*rateEntry)
	g.budgets = make(map[string]*budgetEntry)
	return nil
}

// Stats implements Guard.
func (g *MemoryGuard) Stats(_ context.Context) (Stats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := Stats{ActiveKeys: len(g.rates), BudgetKeys: len(g.budgets)}
	for _, e := range g.rates {
		e.mu.Lock()
		st.TotalRequests += len(e.stamps)
		e.mu.Unlock()
	}
	return st, nil
}

// Cleanup implements Guard. Timestamps older than maxIdle are dropped and
// keys left without any are removed.
func (g *MemoryGuard) Cleanup(_ context.Context, maxIdle time.Duration) (int, error) {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()

	removed := 0
	for key, e := range g.rates {
		e.mu.Lock()
		kept := e.stamps[:0]
		for _, t := range e.stamps {
			if now.Sub(t) < maxIdle {
				kept = append(kept, t)
			}
		}
		e.stamps = kept
		if len(e.stamps) == 0 && now.Sub(e.lastSeen) >= maxIdle {
			e.removed = true
			delete(g.rates, key)
			removed++
		}
		e.mu.Unlock()
	}
	for key, e := range g.budgets {
		e.mu.Lock()
		if now.Sub(e.lastSeen) >= maxIdle && now.After(e.resetAt) {
			e.removed = true
			delete(g.budgets, key)
			removed++
		}
		e.mu.Unlock()
	}
	return removed, nil
}

var _ Guard = (*MemoryGuard)(nil)
