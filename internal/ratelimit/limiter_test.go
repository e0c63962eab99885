package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"relaymail/backend/internal/config"
)

type mockCounter struct {
	mock.Mock
}

func (m *mockCounter) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	args := m.Called(key, window)
	return args.Get(0).(int64), args.Error(1)
}

func TestWindowLimiter(t *testing.T) {
	counter := &mockCounter{}
	counter.On("IncrementRateLimit", "alias:u1", time.Minute).Return(int64(2), nil).Once()
	counter.On("IncrementRateLimit", "alias:u1", time.Minute).Return(int64(3), nil).Once()

	l := New(config.RateLimitConfig{Requests: 2, Window: time.Minute}, counter)
	ok, err := l.Allow(context.Background(), "alias:u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(context.Background(), "alias:u1")
	require.NoError(t, err)
	assert.False(t, ok)
	counter.AssertExpectations(t)
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(2, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("桶容量耗尽后拒绝", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			ok, _ := l.Allow(ctx, "u1")
			assert.True(t, ok)
		}
		ok, _ := l.Allow(ctx, "u1")
		assert.False(t, ok)

		ok, _ = l.Allow(ctx, "u2")
		assert.True(t, ok, "不同 key 互不影响")
	})

	t.Run("随时间恢复", func(t *testing.T) {
		now = now.Add(30 * time.Second)
		ok, _ := l.Allow(ctx, "u1")
		assert.True(t, ok)
	})

	t.Run("清理闲置的桶", func(t *testing.T) {
		now = now.Add(5 * time.Minute)
		_, _ = l.Allow(ctx, "u3")
		l.mu.Lock()
		defer l.mu.Unlock()
		assert.Len(t, l.buckets, 1)
	})
}
