package sql

import (
	"strings"
	"time"

	"relaymail/backend/internal/domain"
)

// ========== User Repository ==========

// CreateUser 创建新用户
func (u *uow) CreateUser(user *domain.User) error {
	user.Email = strings.ToLower(user.Email)
	return mapError("create user", u.db.Create(user).Error, nil, domain.ErrUserExists)
}

// GetUserByID 根据ID获取用户
func (u *uow) GetUserByID(id string) (*domain.User, error) {
	var user domain.User
	if err := u.db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, mapError("get user", err, domain.ErrUserNotFound, nil)
	}
	return &user, nil
}

// GetUserByEmail 根据邮箱获取用户
func (u *uow) GetUserByEmail(email string) (*domain.User, error) {
	var user domain.User
	if err := u.db.Where("email = ?", strings.ToLower(email)).First(&user).Error; err != nil {
		return nil, mapError("get user by email", err, domain.ErrUserNotFound, nil)
	}
	return &user, nil
}

// UpdateLastLogin 更新最后登录时间
func (u *uow) UpdateLastLogin(userID string, at time.Time) error {
	res := u.db.Model(&domain.User{}).Where("id = ?", userID).
		Updates(map[string]any{"last_login_at": at, "updated_at": at})
	if res.Error != nil {
		return domain.Internal("update last login", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ========== API Key Repository ==========

// SaveAPIKey 保存 API Key
func (u *uow) SaveAPIKey(key *domain.APIKey) error {
	return mapError("save api key", u.db.Save(key).Error, nil, domain.ErrConflict)
}

// GetAPIKeyByCode 根据密钥值获取 API Key
func (u *uow) GetAPIKeyByCode(code string) (*domain.APIKey, error) {
	var key domain.APIKey
	if err := u.db.Where("code = ?", code).First(&key).Error; err != nil {
		return nil, mapError("get api key", err, domain.ErrAPIKeyNotFound, nil)
	}
	return &key, nil
}

// ListAPIKeysByUserID 列出用户的 API Key
func (u *uow) ListAPIKeysByUserID(userID string) ([]domain.APIKey, error) {
	keys := make([]domain.APIKey, 0)
	err := u.db.Where("user_id = ?", userID).Order("created_at ASC").Order("id ASC").Find(&keys).Error
	if err != nil {
		return nil, domain.Internal("list api keys", err)
	}
	return keys, nil
}

// DeleteAPIKey 删除属于该用户的 API Key
func (u *uow) DeleteAPIKey(userID, id string) error {
	res := u.db.Where("id = ? AND user_id = ?", id, userID).Delete(&domain.APIKey{})
	if res.Error != nil {
		return domain.Internal("delete api key", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed 更新 API Key 最后使用时间
func (u *uow) UpdateAPIKeyLastUsed(id string, at time.Time) error {
	err := u.db.Model(&domain.APIKey{}).Where("id = ?", id).Update("last_used_at", at).Error
	return mapError("update api key", err, nil, nil)
}
