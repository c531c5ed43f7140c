package ratelimit

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/haraj-adan/chatsync/internal/logging"
)

// Redis is a fixed window limiter (INCR + EXPIRE) shared by every client
// process that uses the same Redis, e.g. when preferences live in Redis.
type Redis struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewRedis creates a Redis limiter. prefix namespaces every key.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, log: logging.Component("ratelimit")}
}

// Allow increments the identifier's counter and sets the window expiry on
// first access. Redis errors fail open.
func (l *Redis) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := l.prefix + rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("redis INCR failed, failing open")
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("redis EXPIRE failed, failing open")
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many actions identifier has left in the current
// window. Redis errors report the full limit.
func (l *Redis) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := l.prefix + rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		return rule.Limit, err
	}
	return max(rule.Limit-count, 0), nil
}
