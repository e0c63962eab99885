package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"relaymail/backend/internal/auth"
	"relaymail/backend/internal/auth/jwt"
	"relaymail/backend/internal/config"
	"relaymail/backend/internal/health"
	"relaymail/backend/internal/logger"
	"relaymail/backend/internal/monitoring"
	"relaymail/backend/internal/mq"
	"relaymail/backend/internal/ratelimit"
	"relaymail/backend/internal/service"
	"relaymail/backend/internal/smtp"
	"relaymail/backend/internal/storage"
	"relaymail/backend/internal/storage/memory"
	"relaymail/backend/internal/storage/redis"
	sqlstore "relaymail/backend/internal/storage/sql"
	httptransport "relaymail/backend/internal/transport/http"
	"relaymail/backend/internal/websocket"
)

const (
	smtpMaxConnections = 100
	smtpConnectRate    = 20

	alertMemoryMB = 512
	alertInterval = time.Minute
)

// main 启动 HTTP 查询接口、SMTP 收信适配器和邮件事件消费者。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting relaymail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Strings("alias_domains", cfg.Alias.Domains),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, log)

	alerts := monitoring.NewAlertManager(log)
	alerts.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alerts.AddRule(monitoring.HighMemoryUsageRule(alertMemoryMB))
	alerts.AddRule(monitoring.DependencyRule("database", store.Health))

	// 限流：配置了 Redis 时多实例共享计数
	var counter storage.RateLimitRepository
	if cfg.Redis.Address != "" {
		rdb, err := redis.New(cfg.Redis, log)
		if err != nil {
			return err
		}
		defer rdb.Close()
		counter = rdb
		healthChecker.AddDependency("redis", rdb)
		alerts.AddRule(monitoring.DependencyRule("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Ping(ctx)
		}))
	}
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit, counter)
	}

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, metrics, log)

	aliasService := service.NewAliasService(cfg.Alias, metrics, log)
	contactService := service.NewContactService(cfg.Alias, metrics, log)
	activityService := service.NewActivityService(cfg.Alias.PageLimit, wsHub, metrics, log)
	ingestService := service.NewIngestService(aliasService, contactService, activityService, log)
	apiKeyService := service.NewAPIKeyService(store, cfg.Cache.APIKeyTTL, log)
	defer apiKeyService.Close()

	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)
	authService := auth.NewService(tokens, aliasService, log)

	deps := httptransport.RouterDependencies{
		Config:          cfg,
		Store:           store,
		AliasService:    aliasService,
		ContactService:  contactService,
		ActivityService: activityService,
		APIKeyService:   apiKeyService,
		AuthService:     authService,
		Limiter:         limiter,
		WebSocketHub:    wsHub,
		Health:          healthChecker,
		Metrics:         metrics,
		Logger:          log,
	}
	if cfg.Billing.WebhookSecret != "" {
		deps.BillingService = service.NewBillingService(cfg.Billing.MonthlyPlanID, log)
		deps.BillingVerifier = service.NewHMACVerifier(cfg.Billing.WebhookSecret)
	}

	// 消息队列连接要在路由之前建立，就绪探针需要它
	var consumer *mq.Consumer
	if cfg.RabbitMQ.URL != "" {
		handler := mq.NewEventHandler(store, ingestService, metrics, log)
		consumer, err = mq.NewConsumer(cfg.RabbitMQ, handler, log)
		if err != nil {
			return err
		}
		defer consumer.Close()
		healthChecker.AddDependency("rabbitmq", consumer)
		alerts.AddRule(monitoring.DependencyRule("rabbitmq", func() error {
			return consumer.Ping(context.Background())
		}))
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           httptransport.NewRouter(deps),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	var smtpServer *gosmtp.Server
	if cfg.SMTP.Enabled {
		backend := smtp.NewBackend(
			store,
			ingestService,
			smtp.NewConnectionLimiter(smtpMaxConnections, smtpConnectRate),
			cfg.SMTP.MaxMessageBytes,
			metrics,
			log,
		)
		smtpServer = smtp.NewServer(cfg.SMTP, backend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if smtpServer != nil {
		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				return fmt.Errorf("smtp server: %w", err)
			}
			return nil
		})
	}

	if consumer != nil {
		group.Go(func() error {
			return consumer.Run(groupCtx)
		})
	}

	group.Go(func() error {
		wsHub.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		alerts.StartMonitoring(groupCtx, alertInterval)
		return nil
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if smtpServer != nil {
			if err := smtpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("SMTP server shutdown warning", zap.Error(err))
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStore 配置了数据库时使用 SQL 存储，否则使用内存存储（开发环境）
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Warn("database not configured, using memory storage")
		return memory.NewStore(), nil
	}
	store, err := sqlstore.NewStore(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database storage: %w", err)
	}
	return store, nil
}
