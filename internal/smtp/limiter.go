package smtp

import (
	"golang.org/x/time/rate"
)

// ConnectionLimiter 限制 SMTP 并发连接数和新建连接速率。
// 并发上限用带缓冲的 channel 做信号量。
type ConnectionLimiter struct {
	slots   chan struct{}
	connect *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数
//   - perSecond: 每秒允许新建的连接数，突发上限同值
func NewConnectionLimiter(maxConns, perSecond int) *ConnectionLimiter {
	if maxConns <= 0 {
		maxConns = 1
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &ConnectionLimiter{
		slots:   make(chan struct{}, maxConns),
		connect: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

// Acquire 占用一个连接名额，并发已满或速率超限时返回 false
func (l *ConnectionLimiter) Acquire() bool {
	select {
	case l.slots <- struct{}{}:
	default:
		return false
	}
	if !l.connect.Allow() {
		<-l.slots
		return false
	}
	return true
}

// Release 归还连接名额
func (l *ConnectionLimiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	return len(l.slots)
}
