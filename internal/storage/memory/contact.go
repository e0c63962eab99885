package memory

import (
	"sort"
	"strings"
	"time"

	"relaymail/backend/internal/domain"
)

// CreateContact 创建联系人并分配自增 ID。
func (t *tx) CreateContact(contact *domain.Contact) error {
	if err := t.check(); err != nil {
		return err
	}
	key := contactKey{aliasID: contact.AliasID, email: strings.ToLower(contact.WebsiteEmail)}
	if _, ok := t.s.byPair[key]; ok {
		return domain.ErrContactExists
	}
	reply := strings.ToLower(contact.ReplyEmail)
	if _, ok := t.s.byReply[reply]; ok {
		return domain.ErrReplyEmailTaken
	}
	t.s.contactSeq++
	contact.ID = t.s.contactSeq
	contact.WebsiteEmail = key.email
	contact.ReplyEmail = reply
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}
	cp := *contact
	set(t, t.s.contacts, cp.ID, &cp)
	set(t, t.s.byPair, key, cp.ID)
	set(t, t.s.byReply, reply, cp.ID)
	return nil
}

// GetContact 根据 ID 获取联系人。
func (t *tx) GetContact(id uint64) (*domain.Contact, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	c, ok := t.s.contacts[id]
	if !ok {
		return nil, domain.ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

// GetContactByAliasAndEmail 根据别名与外部地址获取联系人。
func (t *tx) GetContactByAliasAndEmail(aliasID uint64, websiteEmail string) (*domain.Contact, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	id, ok := t.s.byPair[contactKey{aliasID: aliasID, email: strings.ToLower(websiteEmail)}]
	if !ok {
		return nil, domain.ErrContactNotFound
	}
	return t.GetContact(id)
}

// GetContactByReplyEmail 根据反向别名获取联系人。
func (t *tx) GetContactByReplyEmail(replyEmail string) (*domain.Contact, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	id, ok := t.s.byReply[strings.ToLower(replyEmail)]
	if !ok {
		return nil, domain.ErrContactNotFound
	}
	return t.GetContact(id)
}

// ReplyEmailTaken 判断反向别名是否已被使用。
func (t *tx) ReplyEmailTaken(replyEmail string) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	_, ok := t.s.byReply[strings.ToLower(replyEmail)]
	return ok, nil
}

// DeleteContact 删除联系人及其活动日志。
func (t *tx) DeleteContact(id uint64) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.s.contacts[id]; !ok {
		return domain.ErrContactNotFound
	}
	t.deleteContact(id)
	return nil
}

func (t *tx) deleteContact(id uint64) {
	c := t.s.contacts[id]
	for logID, l := range t.s.logs {
		if l.ContactID == id {
			del(t, t.s.logs, logID)
		}
	}
	del(t, t.s.byPair, contactKey{aliasID: c.AliasID, email: c.WebsiteEmail})
	del(t, t.s.byReply, c.ReplyEmail)
	del(t, t.s.contacts, id)
}

// ListContacts 按创建顺序分页返回别名的联系人，附带最近一封邮件时间。
func (t *tx) ListContacts(aliasID uint64, page domain.Page) ([]domain.ContactInfo, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	contacts := make([]domain.Contact, 0)
	for _, c := range t.s.contacts {
		if c.AliasID == aliasID {
			contacts = append(contacts, *c)
		}
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].ID < contacts[j].ID })
	contacts = paginate(contacts, page)

	last := make(map[uint64]time.Time, len(contacts))
	for _, l := range t.s.logs {
		if cur, ok := last[l.ContactID]; !ok || l.CreatedAt.After(cur) {
			last[l.ContactID] = l.CreatedAt
		}
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
