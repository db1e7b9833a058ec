package security

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisSlidingWindowLimiter 使用 Redis 有序集合实现多实例共享的滑动窗口。
// 当 Redis 不可用时，会回退到内存限流，避免服务完全不可用。
type RedisSlidingWindowLimiter struct {
	client    redis.Scripter
	keyPrefix string
	fallback  *SlidingWindowLimiter
	timeout   time.Duration
	onError   func(error)
}

// KEYS[1] 客户端键；ARGV: now_ms, window_ms, limit, member
var slidingWindowAdmitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count >= limit then
  return 0
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return 1
`)

// NewRedisSlidingWindowLimiter 复用 fallback 的上限与窗口配置
func NewRedisSlidingWindowLimiter(client redis.Scripter, keyPrefix string, fallback *SlidingWindowLimiter) *RedisSlidingWindowLimiter {
	return &RedisSlidingWindowLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		fallback:  fallback,
		timeout:   800 * time.Millisecond,
	}
}

// OnError 注册 Redis 失败回调（用于日志），失败后本次请求走内存限流
func (l *RedisSlidingWindowLimiter) OnError(fn func(error)) {
	l.onError = fn
}

func (l *RedisSlidingWindowLimiter) Admit(key string, now time.Time) bool {
	if l == nil || l.fallback == nil {
		return false
	}
	if l.client == nil {
		return l.fallback.Admit(key, now)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	fullKey := fmt.Sprintf("%s:rate:%s", l.keyPrefix, key)
	windowMillis := l.fallback.Window().Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1
	}

	result, err := slidingWindowAdmitScript.Run(
		ctx,
		l.client,
		[]string{fullKey},
		now.UnixMilli(),
		windowMillis,
		l.fallback.Limit(),
		fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()),
	).Int()
	if err != nil {
		if l.onError != nil {
			l.onError(err)
		}
		return l.fallback.Admit(key, now)
	}
	return result == 1
}
