package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	// other keys have their own bucket
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Equal(t, 2, rl.Len())
}

func TestRateLimiter_Prune(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	rl.Allow("a")
	rl.Allow("b")

	assert.Equal(t, 0, rl.Prune(time.Hour))
	assert.Equal(t, 2, rl.Prune(-time.Second))
	assert.Equal(t, 0, rl.Len())
}

func TestRateLimiter_Throttle(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(1, 1)
	handler := rl.Throttle()(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	do := func(method string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/realtime", nil)
		req.Header.Set(echo.HeaderXRealIP, "192.0.2.7")
		rec := httptest.NewRecorder()
		assert.NoError(t, handler(e.NewContext(req, rec)))
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do(http.MethodPost).Code)

	rec := do(http.MethodPost)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// preflight bypasses the bucket
	assert.Equal(t, http.StatusNoContent, do(http.MethodOptions).Code)
}
