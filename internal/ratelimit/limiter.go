// Package ratelimit 提供按 key 计数的限流器。
// 配置了 Redis 时使用固定窗口计数，多实例共享；否则退化为进程内令牌桶。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaymail/backend/internal/config"
	"relaymail/backend/internal/storage"
)

// Limiter 判断 key 在当前窗口内是否还允许请求
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// New 根据配置创建限流器，counter 为 nil 时使用进程内实现
func New(cfg config.RateLimitConfig, counter storage.RateLimitRepository) Limiter {
	if counter != nil {
		return NewWindowLimiter(counter, cfg.Requests, cfg.Window)
	}
	return NewLocalLimiter(cfg.Requests, cfg.Window)
}

// WindowLimiter 基于共享计数器的固定窗口限流
type WindowLimiter struct {
	counter storage.RateLimitRepository
	limit   int64
	window  time.Duration
}

// NewWindowLimiter 创建固定窗口限流器
func NewWindowLimiter(counter storage.RateLimitRepository, limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{counter: counter, limit: int64(limit), window: window}
}

// Allow 计数加一并判断是否超限
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := l.counter.IncrementRateLimit(ctx, key, l.window)
	if err != nil {
		return false, err
	}
	return n <= l.limit, nil
}

// LocalLimiter 每个 key 一个令牌桶，桶容量为窗口内请求数
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	every   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter 创建进程内限流器
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &LocalLimiter{
		buckets: make(map[string]*bucket),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    window * 2,
		now:     time.Now,
	}
}

// Allow 从 key 对应的桶中取一个令牌
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		l.sweep(now)
		b = &bucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// sweep 清除长时间未使用的桶，调用方持有锁
func (l *LocalLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, k)
		}
	}
}
