package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// allowScript checks and records an attempt in one atomic step. A denied
// attempt is not recorded, so denials never shrink the remaining budget.
var allowScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
	return 0
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// RedisLimiter shares rate counters across pipeline instances. Keys are
// fixed windows per (actor, action); the script keeps check-and-increment
// atomic under concurrent batch starts.
type RedisLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedis(client *redis.Client, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, logger: logger}
}

func (l *RedisLimiter) Allow(ctx context.Context, actorID, action string, limit int, window time.Duration) bool {
	windowStart := time.Now().Truncate(window).UnixMilli()
	k := fmt.Sprintf("ratelimit:%s:%d", key(actorID, action), windowStart)

	allowed, err := allowScript.Run(ctx, l.client, []string{k}, limit, window.Milliseconds()).Int()
	if err != nil {
		// Fail closed: an unreachable counter store must not let callers
		// exceed external API quotas.
		l.logger.Error("rate limit check failed, denying",
			zap.String("actor", actorID),
			zap.String("action", action),
			zap.Error(err))
		return false
	}
	return allowed == 1
}
