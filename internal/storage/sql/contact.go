package sql

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"relaymail/backend/internal/domain"
)

// CreateContact 创建联系人，两个唯一约束分别映射为不同的冲突错误
func (u *uow) CreateContact(contact *domain.Contact) error {
	contact.WebsiteEmail = strings.ToLower(contact.WebsiteEmail)
	contact.ReplyEmail = strings.ToLower(contact.ReplyEmail)
	err := u.savepoint(func(tx *gorm.DB) error { return tx.Create(contact).Error })
	if dup, _ := isDuplicateKey(err); dup {
		return contactConflict(err)
	}
	return mapError("create contact", err, nil, nil)
}

// GetContact 根据 ID 获取联系人
func (u *uow) GetContact(id uint64) (*domain.Contact, error) {
	var contact domain.Contact
	if err := u.db.Where("id = ?", id).First(&contact).Error; err != nil {
		return nil, mapError("get contact", err, domain.ErrContactNotFound, nil)
	}
	return &contact, nil
}

// GetContactByAliasAndEmail 根据别名和外部地址获取联系人
func (u *uow) GetContactByAliasAndEmail(aliasID uint64, websiteEmail string) (*domain.Contact, error) {
	var contact domain.Contact
	err := u.db.Where("alias_id = ? AND website_email = ?", aliasID, strings.ToLower(websiteEmail)).First(&contact).Error
	if err != nil {
		return nil, mapError("get contact by email", err, domain.ErrContactNotFound, nil)
	}
	return &contact, nil
}

// GetContactByReplyEmail 根据反向别名获取联系人
func (u *uow) GetContactByReplyEmail(replyEmail string) (*domain.Contact, error) {
	var contact domain.Contact
	if err := u.db.Where("reply_email = ?", strings.ToLower(replyEmail)).First(&contact).Error; err != nil {
		return nil, mapError("get contact by reply email", err, domain.ErrContactNotFound, nil)
	}
	return &contact, nil
}

// ReplyEmailTaken 判断反向别名是否已存在
func (u *uow) ReplyEmailTaken(replyEmail string) (bool, error) {
	var n int64
	err := u.db.Model(&domain.Contact{}).Where("reply_email = ?", strings.ToLower(replyEmail)).Count(&n).Error
	if err != nil {
		return false, domain.Internal("check reply email", err)
	}
	return n > 0, nil
}

// DeleteContact 删除联系人及其日志
func (u *uow) DeleteContact(id uint64) error {
	if err := u.db.Where("contact_id = ?", id).Delete(&domain.EmailLog{}).Error; err != nil {
		return domain.Internal("delete contact logs", err)
	}
	res := u.db.Where("id = ?", id).Delete(&domain.Contact{})
	if res.Error != nil {
		return domain.Internal("delete contact", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrContactNotFound
	}
	return nil
}

type lastEmailRow struct {
	ContactID uint64
	LastAt    time.Time
}

// ListContacts 按创建顺序分页，附带每个联系人最近一封邮件的时间
func (u *uow) ListContacts(aliasID uint64, page domain.Page) ([]domain.ContactInfo, error) {
	contacts := make([]domain.Contact, 0)
	err := u.db.Where("alias_id = ?", aliasID).
		Order("id ASC").
		Offset(page.Offset()).Limit(page.Limit()).
		Find(&contacts).Error
	if err != nil {
		return nil, domain.Internal("list contacts", err)
	}
	if len(contacts) == 0 {
		return []domain.ContactInfo{}, nil
	}

	ids := make([]uint64, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}
	var rows []lastEmailRow
	err = u.db.Model(&domain.EmailLog{}).
		Select("contact_id, MAX(created_at) AS last_at").
		Where("contact_id IN ?", ids).
		Group("contact_id").
		Scan(&rows).Error
	if err != nil {
		return nil, domain.Internal("last email per contact", err)
	}
	last := make(map[uint64]time.Time, len(rows))
	for _, r := range rows {
		last[r.ContactID] = r.LastAt
	}

	out := make([]domain.ContactInfo, 0, len(contacts))
	for _, c := range contacts {
		info := domain.ContactInfo{Contact: c}
		if at, ok := last[c.ID]; ok {
			info.LastEmailAt = &at
		}
		out = append(out, info)
	}
	return out, nil
}
