package ratebudget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeaders(t *testing.T) {
	reset := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)

	t.Run("allowed", func(t *testing.T) {
		h := Headers(RateResult{Allowed: true, Remaining: 7, ResetTime: reset}, 10)
		assert.Equal(t, "10", h.Get("X-RateLimit-Limit"))
		assert.Equal(t, "7", h.Get("X-RateLimit-Remaining"))
		assert.Equal(t, "2026-01-01T12:01:00Z", h.Get("X-RateLimit-Reset"))
		assert.Empty(t, h.Get("Retry-After"))
	})

	t.Run("rejected rounds retry up", func(t *testing.T) {
		h := Headers(RateResult{Remaining: 0, ResetTime: reset, RetryAfter: 1500 * time.Millisecond}, 10)
		assert.Equal(t, "2", h.Get("Retry-After"))
	})

	t.Run("rejected never advertises zero", func(t *testing.T) {
		h := Headers(RateResult{ResetTime: reset}, 10)
		assert.Equal(t, "1", h.Get("Retry-After"))
	})
}
