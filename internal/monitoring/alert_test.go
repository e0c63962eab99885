package monitoring

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockReceiver struct {
	mock.Mock
}

func (m *mockReceiver) SendAlert(alert *Alert) error {
	return m.Called(alert.RuleID).Error(0)
}

func TestAlertManager(t *testing.T) {
	var down atomic.Bool
	down.Store(true)

	recv := new(mockReceiver)
	recv.On("SendAlert", "database_unavailable").Return(nil).Once()

	am := NewAlertManager(nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	am.now = func() time.Time { return now }
	am.AddReceiver(recv)
	am.AddRule(DependencyRule("database", func() error {
		if down.Load() {
			return errors.New("connection refused")
		}
		return nil
	}))

	t.Run("异常时告警一次", func(t *testing.T) {
		am.CheckRules()
		am.CheckRules()
		assert.Len(t, am.ActiveAlerts(), 1)
		recv.AssertNumberOfCalls(t, "SendAlert", 1)
	})

	t.Run("恢复后解除", func(t *testing.T) {
		down.Store(false)
		am.CheckRules()
		assert.Empty(t, am.ActiveAlerts())
	})

	t.Run("冷却期内不重复告警", func(t *testing.T) {
		down.Store(true)
		now = now.Add(10 * time.Second)
		am.CheckRules()
		assert.Empty(t, am.ActiveAlerts())

		recv.On("SendAlert", "database_unavailable").Return(nil).Once()
		now = now.Add(time.Minute)
		am.CheckRules()
		assert.Len(t, am.ActiveAlerts(), 1)
		recv.AssertNumberOfCalls(t, "SendAlert", 2)
	})
}
