package memory

import (
	"sort"
	"strings"
	"time"

	"relaymail/backend/internal/domain"
)

// CreateUser 创建新用户，邮箱重复时返回 domain.ErrUserExists。
func (t *tx) CreateUser(user *domain.User) error {
	if err := t.check(); err != nil {
		return err
	}
	email := strings.ToLower(user.Email)
	if _, ok := t.s.byEmail[email]; ok {
		return domain.ErrUserExists
	}
	if _, ok := t.s.users[user.ID]; ok {
		return domain.ErrUserExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	cp := *user
	set(t, t.s.users, cp.ID, &cp)
	set(t, t.s.byEmail, email, cp.ID)
	return nil
}

// GetUserByID 根据 ID 获取用户。
func (t *tx) GetUserByID(id string) (*domain.User, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	u, ok := t.s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByEmail 根据邮箱获取用户，不区分大小写。
func (t *tx) GetUserByEmail(email string) (*domain.User, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	id, ok := t.s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return t.GetUserByID(id)
}

// UpdateLastLogin 更新最后登录时间。
func (t *tx) UpdateLastLogin(userID string, at time.Time) error {
	if err := t.check(); err != nil {
		return err
	}
	u, ok := t.s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	cp := *u
	cp.LastLoginAt = &at
	cp.UpdatedAt = at
	set(t, t.s.users, userID, &cp)
	return nil
}

// SaveAPIKey 保存 API Key，Code 重复时返回 domain.ErrConflict。
func (t *tx) SaveAPIKey(key *domain.APIKey) error {
	if err := t.check(); err != nil {
		return err
	}
	if id, ok := t.s.byCode[key.Code]; ok && id != key.ID {
		return domain.ErrConflict
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	if old, ok := t.s.apiKeys[key.ID]; ok && old.Code != key.Code {
		del(t, t.s.byCode, old.Code)
	}
	cp := *key
	set(t, t.s.apiKeys, cp.ID, &cp)
	set(t, t.s.byCode, cp.Code, cp.ID)
	return nil
}

// GetAPIKeyByCode 根据密钥值获取 API Key。
func (t *tx) GetAPIKeyByCode(code string) (*domain.APIKey, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	id, ok := t.s.byCode[code]
	if !ok {
		return nil, domain.ErrAPIKeyNotFound
	}
	cp := *t.s.apiKeys[id]
	return &cp, nil
}

// ListAPIKeysByUserID 按创建时间返回用户的全部 API Key。
func (t *tx) ListAPIKeysByUserID(userID string) ([]domain.APIKey, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]domain.APIKey, 0)
	for _, k := range t.s.apiKeys {
		if k.UserID == userID {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteAPIKey 删除属于该用户的 API Key。
func (t *tx) DeleteAPIKey(userID, id string) error {
	if err := t.check(); err != nil {
		return err
	}
	k, ok := t.s.apiKeys[id]
	if !ok || k.UserID != userID {
		return domain.ErrAPIKeyNotFound
	}
	del(t, t.s.byCode, k.Code)
	del(t, t.s.apiKeys, id)
	return nil
}

// UpdateAPIKeyLastUsed 更新 API Key 最后使用时间。
func (t *tx) UpdateAPIKeyLastUsed(id string, at time.Time) error {
	if err := t.check(); err != nil {
		return err
	}
	k, ok := t.s.apiKeys[id]
	if !ok {
		return domain.ErrAPIKeyNotFound
	}
	cp := *k
	cp.LastUsedAt = &at
	set(t, t.s.apiKeys, id, &cp)
	return nil
}
