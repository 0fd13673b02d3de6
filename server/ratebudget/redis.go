package ratebudget

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// rateScript trims the window, admits when under the limit and returns
// {allowed, count, resetMs}. Scores are unix milliseconds.
var rateScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
redis.call('PEXPIRE', key, window)
return {allowed, count, reset}
`)

// budgetScript returns {allowed, total, resetMs}. The total is returned as
// a string since Lua numbers are truncated to integers on the way out.
var budgetScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local cost = tonumber(ARGV[2])
local budget = tonumber(ARGV[3])
local period = tonumber(ARGV[4])
local total = tonumber(redis.call('HGET', key, 'total') or '0')
local resetAt = tonumber(redis.call('HGET', key, 'reset_at') or '0')
if resetAt == 0 or now > resetAt then
	total = 0
	resetAt = now + period
end
local allowed = 0
if total + cost <= budget then
	total = total + cost
	allowed = 1
end
redis.call('HSET', key, 'total', tostring(total), 'reset_at', tostring(resetAt))
redis.call('PEXPIREAT', key, resetAt)
return {allowed, tostring(total), resetAt}
`)

// RedisGuard shares windows and budgets between server instances.
// Every check is one script invocation, so it is atomic per key.
// Keys expire on their own, which makes Cleanup a no-op.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisGuard creates a Redis-backed guard. Keys are prefix + "rate:" + key
// and prefix + "budget:" + key.
func NewRedisGuard(client redis.UniversalClient, prefix string) *RedisGuard {
	return &RedisGuard{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (g *RedisGuard) rateKey(key string) string   { return g.prefix + "rate:" + key }
func (g *RedisGuard) budgetKey(key string) string { return g.prefix + "budget:" + key }

// CheckRequestRate implements Guard.
func (g *RedisGuard) CheckRequestRate(ctx context.Context, key string, maxRequests int, window time.Duration) (RateResult, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	now := g.now()
	vals, err := rateScript.Run(ctx, g.client, []string{g.rateKey(key)},
		now.UnixMilli(), window.Milliseconds(), maxRequests, uuid.NewString()).Int64Slice()
	if err != nil {
		return RateResult{}, fmt.Errorf("rate check for %s: %w", key, err)
	}
	if len(vals) != 3 {
		return RateResult{}, fmt.Errorf("rate check for %s: unexpected reply %v", key, vals)
	}

	reset := time.UnixMilli(vals[2])
	res := RateResult{
		Allowed:   vals[0] == 1,
		Remaining: max(0, maxRequests-int(vals[1])),
		ResetTime: reset,
	}
	if !res.Allowed {
		res.RetryAfter = max(0, reset.Sub(now))
	}
	return res, nil
}

// CheckCostBudget implements Guard.
func (g *RedisGuard) CheckCostBudget(ctx context.Context, key string, estimatedCost, hourlyBudget float64) (BudgetResult, error) {
	now := g.now()
	vals, err := budgetScript.Run(ctx, g.client, []string{g.budgetKey(key)},
		now.UnixMilli(), estimatedCost, hourlyBudget, BudgetPeriod.Milliseconds()).Slice()
	if err != nil {
		return BudgetResult{}, fmt.Errorf("budget check for %s: %w", key, err)
	}
	if len(vals) != 3 {
		return BudgetResult{}, fmt.Errorf("budget check for %s: unexpected reply %v", key, vals)
	}

	allowed, _ := vals[0].(int64)
	totalRaw, _ := vals[1].(string)
	resetMs, _ := vals[2].(int64)
	total, err := strconv.ParseFloat(totalRaw, 64)
	if err != nil {
		return BudgetResult{}, fmt.Errorf("budget check for %s: parse total %q: %w", key, totalRaw, err)
	}

	return BudgetResult{
		Allowed:   allowed == 1,
		Spent:     total,
		Remaining: max(0, hourlyBudget-total),
		ResetTime: time.UnixMilli(resetMs),
	}, nil
}

// Reset implements Guard.
func (g *RedisGuard) Reset(ctx context.Context, key string) error {
	return g.client.Del(ctx, g.rateKey(key), g.budgetKey(key)).Err()
}

// ResetAll implements Guard.
func (g *RedisGuard) ResetAll(ctx context.Context) error {
	for _, pattern := range []string{g.rateKey("*"), g.budgetKey("*")} {
		keys, err := g.scan(ctx, pattern)
		if err != nil {
			return err
		}
		for len(keys) > 0 {
			n := min(len(keys), 100)
			if err := g.client.Del(ctx, keys[:n]...).Err(); err != nil {
				return fmt.Errorf("reset all: %w", err)
			}
			keys = keys[n:]
		}
	}
	return nil
}

// Stats implements Guard.
func (g *RedisGuard) Stats(ctx context.Context) (Stats, error) {
	rateKeys, err := g.scan(ctx, g.rateKey("*"))
	if err != nil {
		return Stats{}, err
	}
	budgetKeys, err := g.scan(ctx, g.budgetKey("*"))
	if err != nil {
		return Stats{}, err
	}

	st := Stats{ActiveKeys: len(rateKeys), BudgetKeys: len(budgetKeys)}
	for _, k := range rateKeys {
		n, err := g.client.ZCard(ctx, k).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
		st.TotalRequests += int(n)
	}
	return st, nil
}

// Cleanup implements Guard. Redis expires idle keys itself.
func (g *RedisGuard) Cleanup(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func (g *RedisGuard) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := g.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}

var _ Guard = (*RedisGuard)(nil)
