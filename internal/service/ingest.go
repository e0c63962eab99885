package service

import (
	"errors"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/storage"
)

// MailEvent 收信适配器观察到的一次邮件事件。
// Kind 为空时根据收件人推断：别名为 forward（别名禁用时为 block），反向别名为 reply。
type MailEvent struct {
	Sender     string // 裸地址或 "Name <addr>"
	SenderName string // 可选，来自 From 头的显示名
	Recipient  string
	Kind       domain.ActivityKind
}

// IngestResult 处理结果
type IngestResult struct {
	Alias   *domain.Alias
	Contact *domain.Contact
	Log     *domain.EmailLog
}

// IngestService 把收信适配器（SMTP、消息队列）观察到的事件落到活动记录上。
// 只记录活动，不投递邮件。
type IngestService struct {
	aliases    *AliasService
	contacts   *ContactService
	activities *ActivityService
	log        *zap.Logger
}

// NewIngestService 创建收信处理服务
func NewIngestService(aliases *AliasService, contacts *ContactService, activities *ActivityService, log *zap.Logger) *IngestService {
	if log == nil {
		log = zap.NewNop()
	}
	return &IngestService{aliases: aliases, contacts: contacts, activities: activities, log: log}
}

// Accepts 判断收件人是否为已知的别名或反向别名
func (s *IngestService) Accepts(uow storage.UnitOfWork, recipient string) (bool, error) {
	if _, err := s.aliases.GetByEmail(uow, recipient); err == nil {
		return true, nil
	} else if !errors.Is(err, domain.ErrAliasNotFound) {
		return false, err
	}
	if _, err := s.contacts.GetByReplyEmail(uow, recipient); err == nil {
		return true, nil
	} else if !errors.Is(err, domain.ErrContactNotFound) {
		return false, err
	}
	return false, nil
}

// Handle 处理一次邮件事件
func (s *IngestService) Handle(uow storage.UnitOfWork, ev MailEvent) (*IngestResult, error) {
	if ev.Kind != "" && !ev.Kind.Valid() {
		return nil, domain.ErrInvalidKind
	}

	alias, err := s.aliases.GetByEmail(uow, ev.Recipient)
	switch {
	case err == nil:
		return s.toAlias(uow, alias, ev)
	case !errors.Is(err, domain.ErrAliasNotFound):
		return nil, err
	}

	contact, err := s.contacts.GetByReplyEmail(uow, ev.Recipient)
	switch {
	case err == nil:
		return s.toReverseAlias(uow, contact, ev)
	case errors.Is(err, domain.ErrContactNotFound):
		return nil, domain.ErrUnknownRecipient
	default:
		return nil, err
	}
}

// toAlias 联系人发往别名：创建联系人（首次来信），记录 forward 或 block
func (s *IngestService) toAlias(uow storage.UnitOfWork, alias *domain.Alias, ev MailEvent) (*IngestResult, error) {
	contact, err := s.contacts.GetOrCreate(uow, alias, senderAddress(ev))
	if err != nil {
		return nil, err
	}
	kind := ev.Kind
	if kind == "" {
		kind = domain.KindForward
		if !alias.Enabled {
			kind = domain.KindBlock
		}
	}
	entry, err := s.activities.Record(uow, alias, contact, kind)
	if err != nil {
		return nil, err
	}
	return &IngestResult{Alias: alias, Contact: contact, Log: entry}, nil
}

// toReverseAlias 用户经反向别名回复联系人
func (s *IngestService) toReverseAlias(uow storage.UnitOfWork, contact *domain.Contact, ev MailEvent) (*IngestResult, error) {
	alias, err := uow.Aliases().GetAlias(contact.AliasID)
	if err != nil {
		return nil, domain.Internal("get alias of contact", err)
	}
	kind := ev.Kind
	if kind == "" {
		kind = domain.KindReply
	}
	entry, err := s.activities.Record(uow, alias, contact, kind)
	if err != nil {
		return nil, err
	}
	return &IngestResult{Alias: alias, Contact: contact, Log: entry}, nil
}

func senderAddress(ev MailEvent) string {
	name := strings.TrimSpace(ev.SenderName)
	if name == "" {
		return ev.Sender
	}
	addr, _, err := domain.ParseAddress(ev.Sender)
	if err != nil {
		return ev.Sender
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}
