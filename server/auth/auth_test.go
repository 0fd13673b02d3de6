package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

type countingLookup struct {
	calls  atomic.Int32
	userID string
	err    error
}

func (l *countingLookup) LookupUser(context.Context, string) (string, error) {
	l.calls.Add(1)
	return l.userID, l.err
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def", "abc.def"},
		{"bearer abc", "abc"},
		{"  Bearer   abc  ", "abc"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractBearerToken(tt.header))
		})
	}
}

func TestResolve_JWT(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(testSecret, nil)
	require.True(t, r.Enabled())

	t.Run("valid token", func(t *testing.T) {
		userID, err := r.Resolve(ctx, "Bearer "+signToken(t, testSecret, "user-123", time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "user-123", userID)
	})

	t.Run("anonymous", func(t *testing.T) {
		userID, err := r.Resolve(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, userID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := r.Resolve(ctx, "Bearer "+signToken(t, "another-secret-of-sufficient-length-000", "user-123", time.Hour))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := r.Resolve(ctx, "Bearer "+signToken(t, testSecret, "user-123", -time.Minute))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		_, err := r.Resolve(ctx, "Bearer "+signToken(t, testSecret, "", time.Hour))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := r.Resolve(ctx, "Bearer not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestResolve_LookupIsCached(t *testing.T) {
	ctx := context.Background()
	lookup := &countingLookup{userID: "user-9"}
	r := NewResolver("", lookup)

	for i := 0; i < 3; i++ {
		userID, err := r.Resolve(ctx, "Bearer opaque-token")
		require.NoError(t, err)
		assert.Equal(t, "user-9", userID)
	}
	assert.Equal(t, int32(1), lookup.calls.Load())

	t.Run("failures are not cached", func(t *testing.T) {
		failing := &countingLookup{err: errors.New("expired")}
		r := NewResolver("", failing)
		for i := 0; i < 2; i++ {
			_, err := r.Resolve(ctx, "Bearer opaque-token")
			assert.Error(t, err)
		}
		assert.Equal(t, int32(2), failing.calls.Load())
	})
}

func TestResolve_NoVerifier(t *testing.T) {
	r := NewResolver("", nil)
	assert.False(t, r.Enabled())
	_, err := r.Resolve(context.Background(), "Bearer abc")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSupabaseLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":401,"msg":"invalid JWT"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"6f1e2a3b-4c5d-4e6f-8a9b-0c1d2e3f4a5b","aud":"authenticated","role":"authenticated","email":"learner@example.com"}`))
	}))
	defer srv.Close()

	lookup, err := NewSupabaseLookup(srv.URL, "anon-key")
	require.NoError(t, err)

	userID, err := lookup.LookupUser(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "6f1e2a3b-4c5d-4e6f-8a9b-0c1d2e3f4a5b", userID)

	_, err = lookup.LookupUser(context.Background(), "bad-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUserIDContext(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-1")
	assert.Equal(t, "user-1", UserIDFromContext(ctx))
	assert.Empty(t, UserIDFromContext(context.Background()))
}
