package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relaymail/backend/internal/cache"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/storage"
)

const apiKeyLength = 48

// APIKeyService API Key 业务逻辑服务
//
// 浏览器扩展等客户端在 Authentication 头中携带 Key。
// Key 到用户的映射在本地缓存一段时间，删除 Key 时立即失效；
// 用户本身每次重新加载，停用立即生效。
type APIKeyService struct {
	store storage.Store
	cache *cache.LocalCache[keyRef]
	log   *zap.Logger
	now   func() time.Time
}

// keyRef 缓存的 Key 归属
type keyRef struct {
	keyID  string
	userID string
}

// NewAPIKeyService 创建 API Key 服务，ttl <= 0 时不缓存
func NewAPIKeyService(store storage.Store, ttl time.Duration, log *zap.Logger) *APIKeyService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &APIKeyService{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	if ttl > 0 {
		s.cache = cache.NewLocalCache[keyRef](10000, ttl)
	}
	return s
}

// Close 释放缓存
func (s *APIKeyService) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// Create 为用户创建新的 API Key
func (s *APIKeyService) Create(uow storage.UnitOfWork, userID, name string) (*domain.APIKey, error) {
	code, err := generateAPIKey()
	if err != nil {
		return nil, domain.Internal("generate api key", err)
	}
	key := &domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Code:      code,
		Name:      strings.TrimSpace(name),
		CreatedAt: s.now(),
	}
	if err := uow.APIKeys().SaveAPIKey(key); err != nil {
		return nil, domain.Internal("save api key", err)
	}
	return key, nil
}

// List 列出用户的所有 API Key
func (s *APIKeyService) List(uow storage.UnitOfWork, userID string) ([]domain.APIKey, error) {
	keys, err := uow.APIKeys().ListAPIKeysByUserID(userID)
	if err != nil {
		return nil, domain.Internal("list api keys", err)
	}
	return keys, nil
}

// Delete 删除 API Key，提交后清除该 Key 的认证缓存
func (s *APIKeyService) Delete(uow storage.UnitOfWork, userID, id string) error {
	if err := uow.APIKeys().DeleteAPIKey(userID, id); err != nil {
		return domain.Internal("delete api key", err)
	}
	if s.cache != nil {
		uow.AfterCommit(func() {
			s.cache.DeleteFunc(func(_ string, ref keyRef) bool { return ref.keyID == id })
		})
	}
	return nil
}

// Authenticate 校验 API Key 并返回关联的用户
//
// 未命中缓存时查询 Key 并在独立的工作单元中刷新最后使用时间，
// 刷新失败只记录日志，不影响认证结果。
func (s *APIKeyService) Authenticate(ctx context.Context, code string) (*domain.User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidToken
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, domain.Internal("begin", err)
	}
	defer uow.Rollback()

	ref, cached := s.lookupCached(code)
	if !cached {
		key, err := uow.APIKeys().GetAPIKeyByCode(code)
		if err != nil {
			if errors.Is(err, domain.ErrAPIKeyNotFound) {
				return nil, domain.ErrInvalidToken
			}
			return nil, domain.Internal("lookup api key", err)
		}
		ref = keyRef{keyID: key.ID, userID: key.UserID}
	}
	user, err := uow.Users().GetUserByID(ref.userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, domain.Internal("lookup user", err)
	}
	if !user.IsActive {
		return nil, domain.ErrUserDisabled
	}
	if err := uow.Commit(); err != nil {
		return nil, domain.Internal("commit", err)
	}

	if !cached {
		s.touch(ctx, ref.keyID)
		if s.cache != nil {
			s.cache.Set(code, ref, 0)
		}
	}
	return user, nil
}

func (s *APIKeyService) lookupCached(code string) (keyRef, bool) {
	if s.cache == nil {
		return keyRef{}, false
	}
	return s.cache.Get(code)
}

// touch 刷新 Key 的最后使用时间
func (s *APIKeyService) touch(ctx context.Context, keyID string) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		s.log.Warn("failed to update api key last used", zap.String("key_id", keyID), zap.Error(err))
		return
	}
	defer uow.Rollback()

	if err := uow.APIKeys().UpdateAPIKeyLastUsed(keyID, s.now()); err != nil {
		s.log.Warn("failed to update api key last used", zap.String("key_id", keyID), zap.Error(err))
		return
	}
	if err := uow.Commit(); err != nil {
		s.log.Warn("failed to commit api key last used", zap.String("key_id", keyID), zap.Error(err))
	}
}

// generateAPIKey 生成 48 个字符的随机 Key
func generateAPIKey() (string, error) {
	buf := make([]byte, 36)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:apiKeyLength], nil
}
