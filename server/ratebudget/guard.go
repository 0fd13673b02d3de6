// Package ratebudget admits or rejects turn requests by a per-key sliding
// request window and a per-key hourly cost budget.
package ratebudget

import (
	"context"
	"time"
)

const (
	// DefaultWindow is the request window used for per-user and per-IP limits.
	DefaultWindow = time.Minute
	// BudgetPeriod is the length of one cost budget period, starting at first use.
	BudgetPeriod = time.Hour
	// DefaultMaxIdle is how long a key may stay untouched before reclamation.
	DefaultMaxIdle = 24 * time.Hour
)

// RateResult is the outcome of one request-rate check.
type RateResult struct {
	Allowed   bool
	Remaining int
	// ResetTime is when the oldest retained request leaves the window.
	ResetTime time.Time
	// RetryAfter is zero when the request was allowed.
	RetryAfter time.Duration
}

// BudgetResult is the outcome of one cost budget check.
type BudgetResult struct {
	Allowed   bool
	Spent     float64
	Remaining float64
	ResetTime time.Time
}

// Stats summarizes what the guard currently retains.
type Stats struct {
	ActiveKeys    int `json:"activeKeys"`
	TotalRequests int `json:"totalRequests"`
	BudgetKeys    int `json:"budgetKeys"`
}

// Guard records admissions. Check-then-record is indivisible per key:
// concurrent checks on one key never admit more than the limit.
type Guard interface {
	// CheckRequestRate admits the request when fewer than maxRequests were
	// admitted for key within window, and records it if so.
	CheckRequestRate(ctx context.Context, key string, maxRequests int, window time.Duration) (RateResult, error)
	// CheckCostBudget adds estimatedCost to key's spend for the current hour
	// when the new total stays within hourlyBudget. Rejected checks spend nothing.
	CheckCostBudget(ctx context.Context, key string, estimatedCost, hourlyBudget float64) (BudgetResult, error)
	// Reset forgets every record for key.
	Reset(ctx context.Context, key string) error
	// ResetAll forgets every record.
	ResetAll(ctx context.Context) error
	// Stats reports retained keys and timestamps.
	Stats(ctx context.Context) (Stats, error)
	// Cleanup drops keys idle longer than maxIdle and returns how many were dropped.
	Cleanup(ctx context.Context, maxIdle time.Duration) (int, error)
}
