package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	defaultTTL       = time.Hour
)

// RedisStore keeps each history as a JSON blob whose TTL is the idle timeout.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed history store. Keys are prefix + "session:" + id.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Load implements HistoryStore. Refreshes the TTL on read.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*History, error) {
	key := s.key(sessionID)
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var h History
	if err := json.Unmarshal(val, &h); err != nil {
		return nil, err
	}

	// a failed refresh only shortens the idle window
	_ = s.client.Expire(ctx, key, s.ttl).Err()
	return &h, nil
}

// Save implements HistoryStore.
func (s *RedisStore) Save(ctx context.Context, history *History) error {
	now := time.Now().Unix()
	stored := history.Clone()
	if stored.CreatedAt == 0 {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	val, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(stored.SessionID), val, s.ttl).Err()
}

// Delete implements HistoryStore.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// CleanupExpired implements HistoryStore. Redis expires idle keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

// Close implements HistoryStore. The client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + sessionKeyPrefix + id
}
