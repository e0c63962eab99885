package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContextRequestID 请求 ID 在 gin.Context 中的键
const ContextRequestID = "requestID"

// HeaderRequestID 请求 ID 的请求头与响应头
const HeaderRequestID = "X-Request-ID"

// SecurityHeaders 添加安全响应头。
// /api 下的响应包含别名和联系人地址，禁止任何缓存。
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("Cache-Control", "no-store")
		}
		c.Next()
	}
}

// RequestID 为每个请求分配 ID，合法的上游 X-Request-ID 原样沿用
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(ContextRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestLogger 请求日志中间件。
// 记录路由模板而不是原始路径和查询串，避免把搜索词里的邮箱地址写进日志。
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := append(requestFields(c),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		)

		switch {
		case status >= 500:
			log.Error("server error", fields...)
		case status >= 400:
			log.Warn("client error", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// requestFields 返回请求的公共日志字段
func requestFields(c *gin.Context) []zap.Field {
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("ip", c.ClientIP()),
	}
	if id := c.GetString(ContextRequestID); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if userID := c.GetString(ContextUserID); userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	return fields
}
