package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"relaymail/backend/internal/storage"
)

// maxGoroutines 存活检查的 goroutine 上限
const maxGoroutines = 10000

// Pinger 可探测连通性的外部依赖（Redis、消息队列等）
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc 将函数适配为 Pinger
type PingerFunc func(ctx context.Context) error

// Ping 实现 Pinger
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthChecker 健康检查器
//
// /health/live 只检查进程自身，/health/ready 额外检查存储和已注册的外部依赖。
type HealthChecker struct {
	health    healthcheck.Handler
	store     storage.Store
	deps      map[string]Pinger
	startTime time.Time
	logger    *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:    healthcheck.NewHandler(),
		store:     store,
		deps:      make(map[string]Pinger),
		startTime: time.Now(),
		logger:    logger,
	}

	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	hc.health.AddReadinessCheck("database", healthcheck.Timeout(store.Health, 2*time.Second))

	return hc
}

// AddDependency 注册就绪检查依赖
func (hc *HealthChecker) AddDependency(name string, p Pinger) {
	hc.deps[name] = p
	hc.health.AddReadinessCheck(name, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return p.Ping(ctx)
	})
}

// LiveHandler 存活检查处理器
func (hc *HealthChecker) LiveHandler() http.Handler {
	return http.HandlerFunc(hc.health.LiveEndpoint)
}

// ReadyHandler 就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.Handler {
	return http.HandlerFunc(hc.health.ReadyEndpoint)
}

// Report 汇总各项检查结果，用于 /health
type Report struct {
	Status    string            `json:"status"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

// CheckHealth 执行所有检查
func (hc *HealthChecker) CheckHealth(ctx context.Context) Report {
	report := Report{
		Status:    "ok",
		Uptime:    time.Since(hc.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string, len(hc.deps)+1),
		Timestamp: time.Now().UTC(),
	}

	record := func(name string, err error) {
		if err != nil {
			report.Status = "degraded"
			report.Checks[name] = fmt.Sprintf("ERROR: %v", err)
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			return
		}
		report.Checks[name] = "OK"
	}

	record("database", hc.store.Health())

	names := make([]string, 0, len(hc.deps))
	for name := range hc.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		record(name, hc.deps[name].Ping(pctx))
		cancel()
	}

	return report
}
