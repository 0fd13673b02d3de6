package ratebudget

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// Headers renders the standard rate limit response headers for result.
// Retry-After is only present on rejections and is at least one second.
func Headers(result RateResult, limit int) http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", result.ResetTime.UTC().Format(time.RFC3339))
	if !result.Allowed {
		secs := int(math.Ceil(result.RetryAfter.Seconds()))
		h.Set("Retry-After", strconv.Itoa(max(1, secs)))
	}
	return h
}
