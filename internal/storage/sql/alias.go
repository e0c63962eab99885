package sql

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"relaymail/backend/internal/domain"
)

// CreateAlias 创建别名。已删除的地址同样视为占用。
func (u *uow) CreateAlias(alias *domain.Alias) error {
	alias.Email = strings.ToLower(alias.Email)

	var tombstones int64
	if err := u.db.Model(&domain.DeletedAlias{}).Where("email = ?", alias.Email).Count(&tombstones).Error; err != nil {
		return domain.Internal("check deleted alias", err)
	}
	if tombstones > 0 {
		return domain.ErrAliasExists
	}
	err := u.savepoint(func(tx *gorm.DB) error { return tx.Create(alias).Error })
	return mapError("create alias", err, nil, domain.ErrAliasExists)
}

// GetAlias 根据 ID 获取别名
func (u *uow) GetAlias(id uint64) (*domain.Alias, error) {
	var alias domain.Alias
	if err := u.db.Where("id = ?", id).First(&alias).Error; err != nil {
		return nil, mapError("get alias", err, domain.ErrAliasNotFound, nil)
	}
	return &alias, nil
}

// GetAliasByEmail 根据地址获取别名
func (u *uow) GetAliasByEmail(email string) (*domain.Alias, error) {
	var alias domain.Alias
	if err := u.db.Where("email = ?", strings.ToLower(email)).First(&alias).Error; err != nil {
		return nil, mapError("get alias by email", err, domain.ErrAliasNotFound, nil)
	}
	return &alias, nil
}

// AliasEmailTaken 判断地址是否被现存或已删除的别名占用
func (u *uow) AliasEmailTaken(email string) (bool, error) {
	email = strings.ToLower(email)
	var n int64
	if err := u.db.Model(&domain.Alias{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return false, domain.Internal("check alias email", err)
	}
	if n > 0 {
		return true, nil
	}
	if err := u.db.Model(&domain.DeletedAlias{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return false, domain.Internal("check deleted alias", err)
	}
	return n > 0, nil
}

// UpdateAlias 更新启用状态与备注
func (u *uow) UpdateAlias(alias *domain.Alias) error {
	err := u.db.Model(&domain.Alias{}).Where("id = ?", alias.ID).
		Updates(map[string]any{"enabled": alias.Enabled, "note": alias.Note}).Error
	return mapError("update alias", err, nil, nil)
}

// DeleteAlias 级联删除联系人与日志，并写入墓碑
func (u *uow) DeleteAlias(alias *domain.Alias) error {
	contactIDs := u.db.Model(&domain.Contact{}).Select("id").Where("alias_id = ?", alias.ID)
	if err := u.db.Where("contact_id IN (?)", contactIDs).Delete(&domain.EmailLog{}).Error; err != nil {
		return domain.Internal("delete alias logs", err)
	}
	if err := u.db.Where("alias_id = ?", alias.ID).Delete(&domain.Contact{}).Error; err != nil {
		return domain.Internal("delete alias contacts", err)
	}
	res := u.db.Where("id = ?", alias.ID).Delete(&domain.Alias{})
	if res.Error != nil {
		return domain.Internal("delete alias", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAliasNotFound
	}

	tombstone := &domain.DeletedAlias{UserID: alias.UserID, Email: alias.Email, CreatedAt: time.Now().UTC()}
	err := u.db.Clauses(clause.OnConflict{DoNothing: true}).Create(tombstone).Error
	return mapError("create deleted alias", err, nil, nil)
}

func (u *uow) aliasScope(q domain.AliasQuery) *gorm.DB {
	db := u.db.Model(&domain.Alias{}).Where("aliases.user_id = ?", q.UserID)
	if search := strings.ToLower(strings.TrimSpace(q.Search)); search != "" {
		db = db.Where("LOWER(aliases.email) LIKE ?", "%"+escapeLike(search)+"%")
	}
	return db
}

// ListAliases 按 ID 升序分页
func (u *uow) ListAliases(q domain.AliasQuery) ([]domain.Alias, error) {
	aliases := make([]domain.Alias, 0)
	err := u.aliasScope(q).
		Order("aliases.id ASC").
		Offset(q.Page.Offset()).Limit(q.Page.Limit()).
		Find(&aliases).Error
	if err != nil {
		return nil, domain.Internal("list aliases", err)
	}
	return aliases, nil
}

// ListAliasesByActivity 按最近活动倒序分页，没有活动的排在最后，其余按 ID 倒序
func (u *uow) ListAliasesByActivity(q domain.AliasQuery) ([]domain.Alias, error) {
	latest := u.db.Model(&domain.EmailLog{}).
		Select("contacts.alias_id AS alias_id, MAX(email_logs.created_at) AS latest_at").
		Joins("JOIN contacts ON contacts.id = email_logs.contact_id").
		Where("contacts.user_id = ?", q.UserID).
		Group("contacts.alias_id")

	aliases := make([]domain.Alias, 0)
	err := u.aliasScope(q).
		Select("aliases.*").
		Joins("LEFT JOIN (?) AS la ON la.alias_id = aliases.id", latest).
		Order("CASE WHEN la.latest_at IS NULL THEN 1 ELSE 0 END").
		Order("la.latest_at DESC").
		Order("aliases.id DESC").
		Offset(q.Page.Offset()).Limit(q.Page.Limit()).
		Find(&aliases).Error
	if err != nil {
		return nil, domain.Internal("list aliases by activity", err)
	}
	return aliases, nil
}

// CountAliases 统计用户的别名数量
func (u *uow) CountAliases(userID string) (int, error) {
	var n int64
	if err := u.db.Model(&domain.Alias{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, domain.Internal("count aliases", err)
	}
	return int(n), nil
}
