package service

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"relaymail/backend/internal/config"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/monitoring"
	"relaymail/backend/internal/storage"
)

const (
	reversePrefix    = "ra+"
	reverseTokenLen  = 25
	reverseMaxTrials = 10
)

// ContactService 管理别名下的联系人以及反向别名的分配。
type ContactService struct {
	reverseDomain string
	pageSize      int
	metrics       *monitoring.Metrics
	log           *zap.Logger
	now           func() time.Time
	token         func() string
}

// NewContactService 创建联系人服务。
func NewContactService(cfg config.AliasConfig, metrics *monitoring.Metrics, log *zap.Logger) *ContactService {
	if log == nil {
		log = zap.NewNop()
	}
	reverse := cfg.ReverseDomain
	if reverse == "" && len(cfg.Domains) > 0 {
		reverse = cfg.Domains[0]
	}
	pageSize := cfg.PageLimit
	if pageSize <= 0 {
		pageSize = domain.DefaultPageLimit
	}
	return &ContactService{
		reverseDomain: reverse,
		pageSize:      pageSize,
		metrics:       metrics,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
		token:         func() string { return randomString(reverseTokenLen) },
	}
}

// Create 为别名创建联系人。
// raw 可以是裸地址或 "Display Name <addr>"，name 非空时优先于显示名。
// 同一别名下重复的地址返回 ErrContactExists。
func (s *ContactService) Create(uow storage.UnitOfWork, alias *domain.Alias, raw string, name *string) (*domain.Contact, error) {
	addr, display, err := domain.ParseAddress(raw)
	if err != nil {
		return nil, err
	}
	if name == nil && display != "" {
		name = &display
	}

	if _, err := uow.Contacts().GetContactByAliasAndEmail(alias.ID, addr); err == nil {
		return nil, domain.ErrContactExists
	} else if !errors.Is(err, domain.ErrContactNotFound) {
		return nil, domain.Internal("lookup contact", err)
	}

	for attempt := 0; attempt < reverseMaxTrials; attempt++ {
		reply := reversePrefix + s.token() + "@" + s.reverseDomain
		taken, err := uow.Contacts().ReplyEmailTaken(reply)
		if err != nil {
			return nil, domain.Internal("check reverse alias", err)
		}
		if taken {
			continue
		}

		contact := &domain.Contact{
			UserID:       alias.UserID,
			AliasID:      alias.ID,
			WebsiteEmail: addr,
			Name:         name,
			ReplyEmail:   reply,
			CreatedAt:    s.now(),
		}
		err = uow.Contacts().CreateContact(contact)
		if errors.Is(err, domain.ErrReplyEmailTaken) {
			continue
		}
		if err != nil {
			return nil, domain.Internal("create contact", err)
		}

		uow.AfterCommit(func() {
			s.metrics.RecordContactCreated()
			s.log.Debug("contact created",
				zap.Uint64("contact_id", contact.ID),
				zap.Uint64("alias_id", alias.ID),
			)
		})
		return contact, nil
	}
	return nil, domain.ErrReplyUnavailable
}

// GetOrCreate 返回别名下已有的联系人，不存在时创建，供收信流程使用。
func (s *ContactService) GetOrCreate(uow storage.UnitOfWork, alias *domain.Alias, raw string) (*domain.Contact, error) {
	addr, _, err := domain.ParseAddress(raw)
	if err != nil {
		return nil, err
	}
	contact, err := uow.Contacts().GetContactByAliasAndEmail(alias.ID, addr)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, domain.ErrContactNotFound) {
		return nil, domain.Internal("lookup contact", err)
	}
	return s.Create(uow, alias, raw, nil)
}

// Get 获取联系人，不存在或不属于该用户都返回 ErrContactNotFound。
func (s *ContactService) Get(uow storage.UnitOfWork, user *domain.User, id uint64) (*domain.Contact, error) {
	contact, err := uow.Contacts().GetContact(id)
	if err != nil {
		return nil, domain.Internal("get contact", err)
	}
	if contact.UserID != user.ID {
		return nil, domain.ErrContactNotFound
	}
	return contact, nil
}

// GetByReplyEmail 根据反向别名查找联系人。
func (s *ContactService) GetByReplyEmail(uow storage.UnitOfWork, reply string) (*domain.Contact, error) {
	contact, err := uow.Contacts().GetContactByReplyEmail(strings.ToLower(strings.TrimSpace(reply)))
	if err != nil {
		return nil, domain.Internal("get contact by reverse alias", err)
	}
	return contact, nil
}

// Delete 删除联系人及其活动记录。
func (s *ContactService) Delete(uow storage.UnitOfWork, user *domain.User, id uint64) error {
	contact, err := s.Get(uow, user, id)
	if err != nil {
		return err
	}
	if err := uow.Contacts().DeleteContact(contact.ID); err != nil {
		return domain.Internal("delete contact", err)
	}
	return nil
}

// ListForAlias 按创建顺序分页列出别名的联系人，附带最近一封邮件的时间。
func (s *ContactService) ListForAlias(uow storage.UnitOfWork, alias *domain.Alias, pageID int) ([]domain.ContactInfo, error) {
	list, err := uow.Contacts().ListContacts(alias.ID, domain.NewPage(pageID, s.pageSize))
	if err != nil {
		return nil, domain.Internal("list contacts", err)
	}
	return list, nil
}
