// Package ratelimit 基于 Redis GCRA 的分布式限流
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/investlink/pkg/config"
)

const keyPrefix = "ratelimit:"

// RateLimiter 限流器
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 限流规则：每 Period 允许 Rate 次，突发 Burst
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// LimitFromConfig 每秒 QPS 次，Burst 未配置时等于 QPS
func LimitFromConfig(cfg config.RateLimitConfig) Limit {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.QPS
	}
	return Limit{Rate: cfg.QPS, Period: time.Second, Burst: burst}
}

// ClientKey 按客户端标识生成限流 key
func ClientKey(client string) string {
	return keyPrefix + client
}

// Result 限流判定结果
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RedisRateLimiter redis_rate 实现
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 复用已有的 Redis 客户端
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

// Allow 判定本次请求是否放行
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}
