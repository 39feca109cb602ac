package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// BalanceCache holds advisory balance hints for display. It is written only
// after a commit, from the ledger sum, and is never read on a debit path.
// Failures degrade to a miss.
type BalanceCache interface {
	Get(ctx context.Context, scope Scope) (int64, bool)
	Set(ctx context.Context, scope Scope, balance int64)
	Invalidate(ctx context.Context, scope Scope)
}

// NopCache disables the hint.
type NopCache struct{}

func (NopCache) Get(context.Context, Scope) (int64, bool) { return 0, false }
func (NopCache) Set(context.Context, Scope, int64)        {}
func (NopCache) Invalidate(context.Context, Scope)        {}

// RedisBalanceCache stores hints under "<prefix>balance:<type>:<id>".
type RedisBalanceCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisBalanceCache creates a Redis-backed hint cache. ttl bounds how long
// a hint can outlive a write made by another process.
func NewRedisBalanceCache(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBalanceCache{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *RedisBalanceCache) key(scope Scope) string {
	return r.prefix + "balance:" + scope.Key()
}

func (r *RedisBalanceCache) Get(ctx context.Context, scope Scope) (int64, bool) {
	s, err := r.client.Get(ctx, r.key(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		r.logger.Warn("balance hint read failed", "scope", scope.Key(), "error", err)
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (r *RedisBalanceCache) Set(ctx context.Context, scope Scope, balance int64) {
	if err := r.client.Set(ctx, r.key(scope), balance, r.ttl).Err(); err != nil {
		r.logger.Warn("balance hint write failed", "scope", scope.Key(), "error", err)
	}
}

func (r *RedisBalanceCache) Invalidate(ctx context.Context, scope Scope) {
	if err := r.client.Del(ctx, r.key(scope)).Err(); err != nil {
		r.logger.Warn("balance hint delete failed", "scope", scope.Key(), "error", err)
	}
}

var (
	_ BalanceCache = NopCache{}
	_ BalanceCache = (*RedisBalanceCache)(nil)
)
