package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hrygo/parrotalk/internal/profile"
)

// RedisConfig holds the Redis connection configuration.
// Redis is optional: it is only needed when several server instances
// must share rate windows, budgets and session history.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "parrotalk:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisConfigFromProfile creates a Redis config from the server profile.
// Returns nil when no Redis address is configured.
func RedisConfigFromProfile(p *profile.Profile) *RedisConfig {
	if p == nil || !p.IsRedisEnabled() {
		return nil
	}
	config := DefaultRedisConfig()
	config.Addr = p.RedisAddr
	config.Password = p.RedisPassword
	config.DB = p.RedisDB
	if p.RedisPrefix != "" {
		config.KeyPrefix = p.RedisPrefix
	}
	return config
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, config *RedisConfig) (*redis.Client, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	slog.Info("Redis connected", "addr", config.Addr, "prefix", config.KeyPrefix)
	return client, nil
}

// KeyHash generates a SHA256 hash of the key for obfuscation.
// Bearer tokens are never used as cache or Redis keys verbatim.
func KeyHash(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])[:16]
}
