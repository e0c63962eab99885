package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver (pgx)
	_ "github.com/lib/pq"              // PostgreSQL driver (lib/pq)
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"relaymail/backend/internal/config"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db     *sql.DB
	gormDB *gorm.DB
	dbType string // "postgres"、"pgx" 或 "mysql"
	log    *zap.Logger
}

// driverName 返回 database/sql 注册的驱动名
func driverName(dbType string) (string, error) {
	switch dbType {
	case "postgres":
		return "postgres", nil
	case "pgx":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	}
	return "", fmt.Errorf("unsupported database driver: %s (supported: postgres, pgx, mysql)", dbType)
}

// NewStore 创建SQL数据库存储
func NewStore(cfg config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	name, err := driverName(cfg.Type)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	if cfg.Type == "mysql" {
		dialector = mysql.New(mysql.Config{Conn: db})
	} else {
		dialector = postgres.New(postgres.Config{Conn: db})
	}

	gormDB, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	log.Info("connected to database",
		zap.String("type", cfg.Type),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)

	store := &Store{
		db:     db,
		gormDB: gormDB,
		dbType: cfg.Type,
		log:    log,
	}

	if cfg.AutoMigrate {
		if err := store.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return store, nil
}

// Begin 开启数据库事务
func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx := s.gormDB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &uow{db: tx, ctx: ctx, log: s.log}, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Migrate 执行数据库迁移（使用GORM AutoMigrate）
func (s *Store) Migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.User{},
		&domain.APIKey{},
		&domain.Alias{},
		&domain.DeletedAlias{},
		&domain.Contact{},
		&domain.EmailLog{},
		&domain.Subscription{},
	)
}
