package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaymail/backend/internal/monitoring"
	"relaymail/backend/internal/ratelimit"
)

// RateLimit 按用户（未认证时按 IP）限流，超限返回 429。
// 限流器出错时放行请求。
func RateLimit(limiter ratelimit.Limiter, scope string, metrics *monitoring.Metrics, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if userID := c.GetString(ContextUserID); userID != "" {
			key = "user:" + userID
		}

		ok, err := limiter.Allow(c.Request.Context(), scope+":"+key)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			metrics.RecordRateLimitBlock(scope)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
