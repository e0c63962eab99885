package service

import (
	"time"

	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/monitoring"
	"relaymail/backend/internal/storage"
)

// ActivityNotifier 在活动提交后接收推送，websocket hub 实现该接口。
type ActivityNotifier interface {
	NotifyActivity(userID string, aliasID uint64, view domain.ActivityView)
}

// ActivityService 记录和查询别名的邮件活动。
type ActivityService struct {
	pageSize int
	notifier ActivityNotifier
	metrics  *monitoring.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewActivityService 创建活动服务，notifier 可以为 nil。
func NewActivityService(pageSize int, notifier ActivityNotifier, metrics *monitoring.Metrics, log *zap.Logger) *ActivityService {
	if log == nil {
		log = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = domain.DefaultPageLimit
	}
	return &ActivityService{
		pageSize: pageSize,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Record 为联系人追加一条活动记录，时间取调用时刻。
func (s *ActivityService) Record(uow storage.UnitOfWork, alias *domain.Alias, contact *domain.Contact, kind domain.ActivityKind) (*domain.EmailLog, error) {
	if !kind.Valid() {
		return nil, domain.ErrInvalidKind
	}
	entry := &domain.EmailLog{
		UserID:    contact.UserID,
		ContactID: contact.ID,
		Kind:      kind,
		CreatedAt: s.now(),
	}
	if err := uow.EmailLogs().CreateEmailLog(entry); err != nil {
		return nil, domain.Internal("record activity", err)
	}

	view := domain.NewActivityView(alias, &domain.Activity{Log: *entry, Contact: *contact})
	uow.AfterCommit(func() {
		s.metrics.RecordActivity(string(kind))
		if s.notifier != nil {
			s.notifier.NotifyActivity(alias.UserID, alias.ID, view)
		}
	})
	return entry, nil
}

// ListForAlias 分页列出别名下所有联系人的活动，最新的在前。
func (s *ActivityService) ListForAlias(uow storage.UnitOfWork, alias *domain.Alias, pageID int) ([]domain.ActivityView, error) {
	acts, err := uow.EmailLogs().ListActivities(alias.ID, domain.NewPage(pageID, s.pageSize))
	if err != nil {
		return nil, domain.Internal("list activities", err)
	}
	views := make([]domain.ActivityView, len(acts))
	for i := range acts {
		views[i] = domain.NewActivityView(alias, &acts[i])
	}
	return views, nil
}

// LatestForAlias 返回别名最近一次活动，没有时返回 nil。
func (s *ActivityService) LatestForAlias(uow storage.UnitOfWork, alias *domain.Alias) (*domain.ActivityView, error) {
	latest, err := uow.EmailLogs().LatestActivity(alias.ID)
	if err != nil {
		return nil, domain.Internal("latest activity", err)
	}
	if latest == nil {
		return nil, nil
	}
	view := domain.NewActivityView(alias, latest)
	return &view, nil
}
