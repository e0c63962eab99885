package storage

import (
	"context"
	"errors"
	"time"

	"relaymail/backend/internal/domain"
)

// ErrTxDone 在已提交或已回滚的工作单元上继续操作时返回。
var ErrTxDone = errors.New("unit of work already finished")

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(user *domain.User) error
	GetUserByID(id string) (*domain.User, error)
	GetUserByEmail(email string) (*domain.User, error)
	UpdateLastLogin(userID string, at time.Time) error
}

// APIKeyRepository 定义 API Key 数据存取操作。
type APIKeyRepository interface {
	SaveAPIKey(key *domain.APIKey) error
	GetAPIKeyByCode(code string) (*domain.APIKey, error)
	ListAPIKeysByUserID(userID string) ([]domain.APIKey, error)
	DeleteAPIKey(userID, id string) error
	UpdateAPIKeyLastUsed(id string, at time.Time) error
}

// AliasRepository 定义别名数据存取操作。
// 别名地址的唯一性（包括已删除地址）由存储层保证，冲突返回 domain.ErrAliasExists。
type AliasRepository interface {
	CreateAlias(alias *domain.Alias) error
	GetAlias(id uint64) (*domain.Alias, error)
	GetAliasByEmail(email string) (*domain.Alias, error)
	AliasEmailTaken(email string) (bool, error) // 现存或已删除
	UpdateAlias(alias *domain.Alias) error
	DeleteAlias(alias *domain.Alias) error // 级联删除联系人与日志，并写入 DeletedAlias
	ListAliases(q domain.AliasQuery) ([]domain.Alias, error)
	ListAliasesByActivity(q domain.AliasQuery) ([]domain.Alias, error)
	CountAliases(userID string) (int, error)
}

// ContactRepository 定义联系人数据存取操作。
// (alias_id, website_email) 冲突返回 domain.ErrContactExists，
// reply_email 冲突返回 domain.ErrReplyEmailTaken。
type ContactRepository interface {
	CreateContact(contact *domain.Contact) error
	GetContact(id uint64) (*domain.Contact, error)
	GetContactByAliasAndEmail(aliasID uint64, websiteEmail string) (*domain.Contact, error)
	GetContactByReplyEmail(replyEmail string) (*domain.Contact, error)
	ReplyEmailTaken(replyEmail string) (bool, error)
	DeleteContact(id uint64) error
	ListContacts(aliasID uint64, page domain.Page) ([]domain.ContactInfo, error)
}

// EmailLogRepository 定义活动日志数据存取操作。
type EmailLogRepository interface {
	CreateEmailLog(log *domain.EmailLog) error
	ListActivities(aliasID uint64, page domain.Page) ([]domain.Activity, error)
	// LatestActivity 返回别名最近一次活动，没有时返回 nil, nil
	LatestActivity(aliasID uint64) (*domain.Activity, error)
	CountActivities(aliasIDs []uint64) (map[uint64]domain.ActivityStats, error)
}

// SubscriptionRepository 定义订阅数据存取操作。
type SubscriptionRepository interface {
	GetSubscriptionByUserID(userID string) (*domain.Subscription, error)
	GetSubscriptionBySubscriptionID(subscriptionID string) (*domain.Subscription, error)
	SaveSubscription(sub *domain.Subscription) error
}

// UnitOfWork 一次逻辑请求内的事务边界。
// 仓储的所有写入在 Commit 之前对其它工作单元不可见；
// Rollback 在 Commit 之后调用是空操作，因此可以直接 defer。
type UnitOfWork interface {
	Context() context.Context

	Users() UserRepository
	APIKeys() APIKeyRepository
	Aliases() AliasRepository
	Contacts() ContactRepository
	EmailLogs() EmailLogRepository
	Subscriptions() SubscriptionRepository

	// AfterCommit 注册提交成功后执行的回调，回滚时丢弃
	AfterCommit(fn func())
	Commit() error
	Rollback() error
}

// Store 定义完整的存储接口。
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	Health() error
	Close() error
}

// RateLimitRepository 定义限流计数操作。
type RateLimitRepository interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Hooks 收集提交后回调，供各存储实现复用。
type Hooks struct {
	fns []func()
}

// Add 注册回调。
func (h *Hooks) Add(fn func()) {
	if fn != nil {
		h.fns = append(h.fns, fn)
	}
}

// Run 按注册顺序执行回调并清空。
func (h *Hooks) Run() {
	fns := h.fns
	h.fns = nil
	for _, fn := range fns {
		fn()
	}
}

// Discard 清空回调。
func (h *Hooks) Discard() {
	h.fns = nil
}
