package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaymail/backend/internal/monitoring"
)

// MonitoringMiddleware 把请求指标和 panic 记录到 Prometheus
type MonitoringMiddleware struct {
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewMonitoringMiddleware 创建监控中间件，metrics 可以为 nil
func NewMonitoringMiddleware(metrics *monitoring.Metrics, logger *zap.Logger) *MonitoringMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitoringMiddleware{metrics: metrics, logger: logger}
}

// HTTPMetrics 按路由模板记录请求数、耗时和响应大小，5xx 计入对应组件的错误数
func (mm *MonitoringMiddleware) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		mm.metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status), time.Since(start), int64(c.Writer.Size()))
		if status >= http.StatusInternalServerError {
			mm.metrics.RecordError("http_5xx", component(route))
		}
	}
}

// component 把路由归到业务组件：/api/aliases/:alias_id/contacts -> contact
func component(route string) string {
	switch {
	case strings.Contains(route, "contact"):
		return "contact"
	case strings.Contains(route, "alias"):
		return "alias"
	case strings.HasPrefix(route, "/api/auth"), strings.HasPrefix(route, "/api/api_keys"):
		return "auth"
	case strings.HasPrefix(route, "/paddle"):
		return "billing"
	}
	return "http"
}

// PanicRecovery 捕获 handler 的 panic，返回 500
func (mm *MonitoringMiddleware) PanicRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				mm.metrics.RecordPanic()
				fields := append(requestFields(c),
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				mm.logger.Error("panic recovered", fields...)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()

		c.Next()
	}
}
