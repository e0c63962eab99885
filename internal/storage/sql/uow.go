package sql

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"relaymail/backend/internal/storage"
)

// uow 基于 gorm 事务的工作单元，同时实现全部仓储接口。
type uow struct {
	db    *gorm.DB
	ctx   context.Context
	log   *zap.Logger
	hooks storage.Hooks
	done  bool
}

func (u *uow) Context() context.Context { return u.ctx }

func (u *uow) Users() storage.UserRepository                 { return u }
func (u *uow) APIKeys() storage.APIKeyRepository             { return u }
func (u *uow) Aliases() storage.AliasRepository              { return u }
func (u *uow) Contacts() storage.ContactRepository           { return u }
func (u *uow) EmailLogs() storage.EmailLogRepository         { return u }
func (u *uow) Subscriptions() storage.SubscriptionRepository { return u }

// savepoint 在保存点中执行 fn，失败时回滚到保存点。
// PostgreSQL 中失败的语句会中止整个事务，调用方需要在冲突后重试时使用。
func (u *uow) savepoint(fn func(tx *gorm.DB) error) error {
	return u.db.Transaction(fn)
}

func (u *uow) AfterCommit(fn func()) {
	u.hooks.Add(fn)
}

// Commit 提交事务，成功后执行回调
func (u *uow) Commit() error {
	if u.done {
		return storage.ErrTxDone
	}
	u.done = true
	if err := u.db.Commit().Error; err != nil {
		u.hooks.Discard()
		return err
	}
	u.hooks.Run()
	return nil
}

// Rollback 回滚事务，已结束时为空操作
func (u *uow) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.hooks.Discard()
	if err := u.db.Rollback().Error; err != nil {
		u.log.Warn("rollback failed", zap.Error(err))
		return err
	}
	return nil
}
