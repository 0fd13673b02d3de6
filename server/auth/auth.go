// Package auth resolves bearer tokens to user ids.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hrygo/parrotalk/plugin/ai/cache"
	"github.com/hrygo/parrotalk/plugin/ai/timeout"
	storecache "github.com/hrygo/parrotalk/store/cache"
)

const (
	// DefaultCacheTTL is how long a resolved token stays cached.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheSize bounds the number of cached tokens.
	DefaultCacheSize = 1024
)

// ErrInvalidToken reports a bearer token that could not be verified.
var ErrInvalidToken = errors.New("invalid access token")

type userIDContextKey struct{}

// UserLookup resolves a token against a remote identity provider.
type UserLookup interface {
	LookupUser(ctx context.Context, token string) (string, error)
}

// Resolver maps bearer tokens to user ids. Tokens are verified locally when a
// JWT secret is configured, otherwise through the lookup. Successful results
// are cached by token hash.
type Resolver struct {
	secret []byte
	lookup UserLookup
	cache  *cache.LRUCache[string]
}

// NewResolver creates a resolver. Either secret or lookup may be empty; with
// neither, every token is rejected.
func NewResolver(secret string, lookup UserLookup) *Resolver {
	r := &Resolver{
		lookup: lookup,
		cache:  cache.NewLRUCache[string](DefaultCacheSize, DefaultCacheTTL),
	}
	if secret != "" {
		r.secret = []byte(secret)
	}
	return r
}

// Enabled reports whether any verification method is configured.
func (r *Resolver) Enabled() bool {
	return r.secret != nil || r.lookup != nil
}

// Resolve returns the user id for an Authorization header value.
// A missing header resolves to "" without error.
func (r *Resolver) Resolve(ctx context.Context, authHeader string) (string, error) {
	token := ExtractBearerToken(authHeader)
	if token == "" {
		return "", nil
	}

	key := storecache.KeyHash(token)
	if userID, ok := r.cache.Get(key); ok {
		return userID, nil
	}

	var (
		userID string
		err    error
	)
	switch {
	case r.secret != nil:
		userID, err = r.verifyJWT(token)
	case r.lookup != nil:
		lookupCtx, cancel := context.WithTimeout(ctx, timeout.IdentityTimeout)
		userID, err = r.lookup.LookupUser(lookupCtx, token)
		cancel()
	default:
		err = fmt.Errorf("%w: no verifier configured", ErrInvalidToken)
	}
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	r.cache.Set(key, userID, 0)
	slog.Debug("resolved access token", "user_id", userID)
	return userID, nil
}

func (r *Resolver) verifyJWT(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

// ExtractBearerToken returns the token of a "Bearer <token>" header value.
func ExtractBearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// WithUserID stores the resolved user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext returns the user id stored by WithUserID, or "".
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDContextKey{}).(string)
	return userID
}
