package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"relaymail/backend/internal/auth"
	"relaymail/backend/internal/config"
	"relaymail/backend/internal/health"
	"relaymail/backend/internal/middleware"
	"relaymail/backend/internal/monitoring"
	"relaymail/backend/internal/ratelimit"
	"relaymail/backend/internal/service"
	"relaymail/backend/internal/storage"
	"relaymail/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	Store           storage.Store
	AliasService    *service.AliasService
	ContactService  *service.ContactService
	ActivityService *service.ActivityService
	APIKeyService   *service.APIKeyService
	BillingService  *service.BillingService
	BillingVerifier service.Verifier // 为 nil 时不注册 /paddle
	AuthService     *auth.Service
	Limiter         ratelimit.Limiter     // 为 nil 时不限流
	WebSocketHub    *websocket.Hub        // 为 nil 时不注册 /api/ws
	Health          *health.HealthChecker // 为 nil 时 /health 只返回 ok
	Metrics         *monitoring.Metrics   // 为 nil 时不暴露 /metrics
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	mm := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(middleware.RequestID())
	router.Use(mm.PanicRecovery())
	router.Use(mm.HTTPMetrics())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(deps.Config.Server.MaxBodyBytes))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Authentication", middleware.HeaderRequestID},
		ExposeHeaders:    []string{"Content-Length", middleware.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewHandler(deps.Store, deps.AliasService, deps.ContactService, deps.ActivityService, log)
	authHandler := NewAuthHandler(deps.Store, deps.AuthService, deps.Metrics, log)
	apiKeyHandler := NewAPIKeyHandler(deps.Store, deps.APIKeyService, log)

	authMW := middleware.NewAuth(deps.APIKeyService, deps.AuthService, deps.Store, log)
	requireUser := authMW.RequireUser()

	createLimit := func(scope string) gin.HandlerFunc {
		if deps.Limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimit(deps.Limiter, scope, deps.Metrics, log)
	}

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		report := deps.Health.CheckHealth(c.Request.Context())
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapH(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapH(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// ========== Billing Webhook ==========
	if deps.BillingVerifier != nil && deps.BillingService != nil {
		billingHandler := NewBillingHandler(deps.Store, deps.BillingVerifier, deps.BillingService, log)
		router.POST("/paddle", billingHandler.Callback)
		router.GET("/paddle", billingHandler.Callback)
	}

	api := router.Group("/api")
	{
		// ========== Auth Routes ==========
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/refresh", authHandler.Refresh)
			authRoutes.GET("/me", requireUser, authHandler.Me)
		}

		// ========== Alias Routes ==========
		api.GET("/aliases", requireUser, handler.getAliases)
		api.GET("/v2/aliases", requireUser, handler.getAliasesV2)
		api.GET("/aliases/:alias_id", requireUser, handler.getAlias)
		api.PUT("/aliases/:alias_id", requireUser, handler.updateAlias)
		api.DELETE("/aliases/:alias_id", requireUser, handler.deleteAlias)
		api.POST("/aliases/:alias_id/toggle", requireUser, handler.toggleAlias)
		api.GET("/aliases/:alias_id/activities", requireUser, handler.getAliasActivities)
		api.POST("/alias/custom/new", requireUser, createLimit("alias"), handler.createCustomAlias)
		api.POST("/alias/random/new", requireUser, createLimit("alias"), handler.createRandomAlias)

		// ========== Contact Routes ==========
		api.GET("/aliases/:alias_id/contacts", requireUser, handler.getAliasContacts)
		api.POST("/aliases/:alias_id/contacts", requireUser, createLimit("contact"), handler.createContact)
		api.DELETE("/contacts/:contact_id", requireUser, handler.deleteContact)

		// ========== API Key Routes ==========
		apiKeyRoutes := api.Group("/api_keys")
		apiKeyRoutes.Use(requireUser)
		{
			apiKeyRoutes.POST("", apiKeyHandler.CreateAPIKey)
			apiKeyRoutes.GET("", apiKeyHandler.ListAPIKeys)
			apiKeyRoutes.DELETE("/:id", apiKeyHandler.DeleteAPIKey)
		}

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			api.GET("/ws", requireUser, websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
