package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 告警
type Alert struct {
	RuleID     string
	Title      string
	Message    string
	Level      AlertLevel
	Component  string
	Timestamp  time.Time
	ResolvedAt *time.Time
}

// AlertRule 告警规则，Condition 返回 true 表示异常
type AlertRule struct {
	ID        string
	Name      string
	Condition func() bool
	Level     AlertLevel
	Component string
	Message   string
	Cooldown  time.Duration
}

// AlertReceiver 告警接收器接口
type AlertReceiver interface {
	SendAlert(alert *Alert) error
}

// AlertManager 周期检查规则，异常时通知接收器，恢复后自动解除。
type AlertManager struct {
	mu        sync.Mutex
	rules     []AlertRule
	active    map[string]*Alert // rule id -> 未解除的告警
	lastFired map[string]time.Time
	receivers []AlertReceiver
	logger    *zap.Logger
	now       func() time.Time
}

// NewAlertManager 创建告警管理器
func NewAlertManager(logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		active:    make(map[string]*Alert),
		lastFired: make(map[string]time.Time),
		logger:    logger,
		now:       time.Now,
	}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// ActiveAlerts 返回未解除的告警
func (am *AlertManager) ActiveAlerts() []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()
	alerts := make([]Alert, 0, len(am.active))
	for _, a := range am.active {
		alerts = append(alerts, *a)
	}
	return alerts
}

// CheckRules 检查所有规则一次
func (am *AlertManager) CheckRules() {
	am.mu.Lock()
	rules := append([]AlertRule(nil), am.rules...)
	am.mu.Unlock()

	for _, rule := range rules {
		// 条件可能做网络探测，不持锁执行
		failing := rule.Condition()
		am.evaluate(rule, failing)
	}
}

func (am *AlertManager) evaluate(rule AlertRule, failing bool) {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	existing, active := am.active[rule.ID]
	if !failing {
		if active {
			existing.ResolvedAt = &now
			delete(am.active, rule.ID)
			am.logger.Info("alert resolved", zap.String("rule", rule.ID))
		}
		return
	}
	if active || now.Sub(am.lastFired[rule.ID]) < rule.Cooldown {
		return
	}

	alert := &Alert{
		RuleID:    rule.ID,
		Title:     rule.Name,
		Message:   rule.Message,
		Level:     rule.Level,
		Component: rule.Component,
		Timestamp: now,
	}
	am.active[rule.ID] = alert
	am.lastFired[rule.ID] = now
	for _, receiver := range am.receivers {
		if err := receiver.SendAlert(alert); err != nil {
			am.logger.Error("failed to send alert", zap.String("rule", rule.ID), zap.Error(err))
		}
	}
}

// StartMonitoring 按间隔检查规则，阻塞到 ctx 结束
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules()
		}
	}
}

// HighMemoryUsageRule 堆内存超过阈值
func HighMemoryUsageRule(thresholdMB float64) AlertRule {
	return AlertRule{
		ID:   "high_memory_usage",
		Name: "High Memory Usage",
		Condition: func() bool {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return float64(m.Alloc)/1024/1024 > thresholdMB
		},
		Level:     AlertLevelWarning,
		Component: "memory",
		Message:   fmt.Sprintf("memory usage exceeds %.0f MB", thresholdMB),
		Cooldown:  5 * time.Minute,
	}
}

// DependencyRule 依赖探测失败，用于数据库、Redis、RabbitMQ
func DependencyRule(component string, check func() error) AlertRule {
	return AlertRule{
		ID:        component + "_unavailable",
		Name:      component + " Unavailable",
		Condition: func() bool { return check() != nil },
		Level:     AlertLevelCritical,
		Component: component,
		Message:   component + " health check failed",
		Cooldown:  time.Minute,
	}
}

// LogAlertReceiver 把告警写入日志
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 实现 AlertReceiver
func (r *LogAlertReceiver) SendAlert(alert *Alert) error {
	fields := []zap.Field{
		zap.String("rule", alert.RuleID),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
	}
	if alert.Level == AlertLevelCritical {
		r.logger.Error("critical alert", fields...)
	} else {
		r.logger.Warn("warning alert", fields...)
	}
	return nil
}
