package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpstreamClassification(t *testing.T) {
	cause := stderrors.New("boom")
	tests := []struct {
		name       string
		status     int
		wantCode   ErrorCode
		wantStatus int
	}{
		{"unauthorized", http.StatusUnauthorized, ErrCodeUnauthorized, http.StatusUnauthorized},
		{"forbidden", http.StatusForbidden, ErrCodeUnauthorized, http.StatusUnauthorized},
		{"rate limited", http.StatusTooManyRequests, ErrCodeRateLimitExceeded, http.StatusTooManyRequests},
		{"server fault", http.StatusBadGateway, ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{"transport failure", 0, ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{"bad request", http.StatusBadRequest, ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Upstream("transcribe", tt.status, cause)
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.status, err.UpstreamStatus)
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
			assert.ErrorIs(t, err, cause)
			assert.Equal(t, "transcribe", err.Context["stage"])
		})
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handle turn: %w", InvalidArgument("audio too large"))

	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
	assert.False(t, IsCode(err, ErrCodeInternal))
	assert.Equal(t, ErrCodeInvalidArgument, GetCodeFromError(err, ErrCodeInternal))
	assert.Equal(t, ErrCodeInternal, GetCodeFromError(stderrors.New("plain"), ErrCodeInternal))
}

func TestSanitize(t *testing.T) {
	t.Run("plain error hides details", func(t *testing.T) {
		status, code, msg := Sanitize(stderrors.New("panic: secret stack"))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, ErrCodeInternal, code)
		assert.NotContains(t, msg, "secret")
	})

	t.Run("upstream cause not leaked", func(t *testing.T) {
		status, code, msg := Sanitize(Upstream("chat", 503, stderrors.New("provider body with key sk-123")))
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, ErrCodeServiceUnavailable, code)
		assert.NotContains(t, msg, "sk-123")
	})

	t.Run("invalid argument keeps message", func(t *testing.T) {
		status, _, msg := Sanitize(InvalidArgument("No audio file provided"))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "No audio file provided", msg)
	})

	t.Run("budget maps to 429", func(t *testing.T) {
		status, _, _ := Sanitize(BudgetExceeded("hourly budget exhausted"))
		assert.Equal(t, http.StatusTooManyRequests, status)
	})
}
