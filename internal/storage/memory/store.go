package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/storage"
)

var errClosed = errors.New("memory store closed")

type contactKey struct {
	aliasID uint64
	email   string
}

// Store 使用内存保存全部数据，主要用于开发验证和测试。
// 同一时刻只允许一个工作单元持有存储锁，写入立即生效，回滚时按撤销日志逆序恢复。
type Store struct {
	mu     sync.Mutex
	closed bool

	users    map[string]*domain.User   // userID -> user
	byEmail  map[string]string         // email -> userID
	apiKeys  map[string]*domain.APIKey // apiKeyID -> apiKey
	byCode   map[string]string         // code -> apiKeyID
	aliases  map[uint64]*domain.Alias  // aliasID -> alias
	byAlias  map[string]uint64         // email -> aliasID
	deleted  map[string]*domain.DeletedAlias
	contacts map[uint64]*domain.Contact
	byPair   map[contactKey]uint64 // (aliasID, website email) -> contactID
	byReply  map[string]uint64     // reply email -> contactID
	logs     map[uint64]*domain.EmailLog
	subs     map[string]*domain.Subscription // userID -> subscription
	bySubID  map[string]string               // subscriptionID -> userID

	aliasSeq   uint64
	deletedSeq uint64
	contactSeq uint64
	logSeq     uint64
	subSeq     uint64
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*domain.User),
		byEmail:  make(map[string]string),
		apiKeys:  make(map[string]*domain.APIKey),
		byCode:   make(map[string]string),
		aliases:  make(map[uint64]*domain.Alias),
		byAlias:  make(map[string]uint64),
		deleted:  make(map[string]*domain.DeletedAlias),
		contacts: make(map[uint64]*domain.Contact),
		byPair:   make(map[contactKey]uint64),
		byReply:  make(map[string]uint64),
		logs:     make(map[uint64]*domain.EmailLog),
		subs:     make(map[string]*domain.Subscription),
		bySubID:  make(map[string]string),
	}
}

// Begin 获取存储锁并开启工作单元，锁在 Commit 或 Rollback 时释放。
func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errClosed
	}
	return &tx{s: s, ctx: ctx}, nil
}

// Health 检查存储状态。
func (s *Store) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close 关闭存储，之后 Begin 返回错误。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// tx 内存工作单元，同时实现全部仓储接口。
type tx struct {
	s     *Store
	ctx   context.Context
	undo  []func()
	hooks storage.Hooks
	done  bool
}

func (t *tx) Context() context.Context { return t.ctx }

func (t *tx) Users() storage.UserRepository                 { return t }
func (t *tx) APIKeys() storage.APIKeyRepository             { return t }
func (t *tx) Aliases() storage.AliasRepository              { return t }
func (t *tx) Contacts() storage.ContactRepository           { return t }
func (t *tx) EmailLogs() storage.EmailLogRepository         { return t }
func (t *tx) Subscriptions() storage.SubscriptionRepository { return t }

func (t *tx) AfterCommit(fn func()) {
	t.hooks.Add(fn)
}

// Commit 释放存储锁并执行提交后回调。
func (t *tx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	t.undo = nil
	t.s.mu.Unlock()
	t.hooks.Run()
	return nil
}

// Rollback 按逆序撤销本工作单元的全部写入，已结束时为空操作。
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.hooks.Discard()
	t.s.mu.Unlock()
	return nil
}

func (t *tx) check() error {
	if t.done {
		return storage.ErrTxDone
	}
	return t.ctx.Err()
}

// set 写入 map 并记录撤销操作。
func set[K comparable, V any](t *tx, m map[K]V, k K, v V) {
	old, had := m[k]
	m[k] = v
	t.undo = append(t.undo, func() {
		if had {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
}

// del 从 map 删除并记录撤销操作。
func del[K comparable, V any](t *tx, m map[K]V, k K) {
	old, had := m[k]
	if !had {
		return
	}
	delete(m, k)
	t.undo = append(t.undo, func() { m[k] = old })
}

func paginate[T any](items []T, page domain.Page) []T {
	off := page.Offset()
	if off < 0 || off >= len(items) {
		return []T{}
	}
	end := off + page.Limit()
	if end > len(items) || end < off {
		end = len(items)
	}
	return items[off:end]
}

// sortActivities 按时间倒序，时间相同时 ID 大的在前。
func sortActivities(items []domain.Activity) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Log, items[j].Log
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
