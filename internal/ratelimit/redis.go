package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRedisPrefix  = "guestbook:cooldown:"
	defaultRedisTimeout = 500 * time.Millisecond
)

type redisCooldownStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisLimiter shares cooldowns across server replicas. Redis failures admit the request.
type RedisLimiter struct {
	client   redisCooldownStore
	cooldown time.Duration
	prefix   string
	logger   *zap.Logger
}

// NewRedisLimiter wraps a go-redis client.
func NewRedisLimiter(client *redis.Client, cooldown time.Duration, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := &RedisLimiter{
		cooldown: cooldown,
		prefix:   defaultRedisPrefix,
		logger:   logger,
	}
	if client != nil {
		limiter.client = client
	}
	return limiter
}

// Allow claims the key for one cooldown window with SET NX PX.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (time.Duration, bool) {
	if l == nil || l.client == nil || l.cooldown <= 0 {
		return 0, true
	}
	normalized := normalizeKey(key)
	if normalized == "" {
		return 0, true
	}

	ctx, cancel := context.WithTimeout(ctx, defaultRedisTimeout)
	defer cancel()

	redisKey := l.prefix + normalized
	claimed, err := l.client.SetNX(ctx, redisKey, 1, l.cooldown).Result()
	if err != nil {
		l.logger.Warn("cooldown store unavailable", zap.String("key", redisKey), zap.Error(err))
		return 0, true
	}
	if claimed {
		return 0, true
	}

	remaining, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		l.logger.Warn("cooldown ttl lookup failed", zap.String("key", redisKey), zap.Error(err))
		return l.cooldown, false
	}
	if remaining <= 0 {
		return 0, true
	}
	return remaining, false
}

// Release deletes the claimed key. A failure leaves the window to expire on its own.
func (l *RedisLimiter) Release(ctx context.Context, key string) {
	if l == nil || l.client == nil {
		return
	}
	normalized := normalizeKey(key)
	if normalized == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, defaultRedisTimeout)
	defer cancel()

	redisKey := l.prefix + normalized
	if err := l.client.Del(ctx, redisKey).Err(); err != nil {
		l.logger.Warn("cooldown release failed", zap.String("key", redisKey), zap.Error(err))
	}
}
