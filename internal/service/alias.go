package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"relaymail/backend/internal/config"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/monitoring"
	"relaymail/backend/internal/storage"
)

// AliasService 封装别名的创建、查询与管理。
// 所有方法都在调用方传入的工作单元内执行，从不自行提交。
type AliasService struct {
	cfg     config.AliasConfig
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time

	localPart func() string // 随机地址的本地部分
	word      func() string // 自定义前缀缺省后缀
}

// NewAliasService 创建别名业务服务。
func NewAliasService(cfg config.AliasConfig, metrics *monitoring.Metrics, log *zap.Logger) *AliasService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxRandomAttempts <= 0 {
		cfg.MaxRandomAttempts = 100
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = domain.DefaultPageLimit
	}
	return &AliasService{
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		localPart: randomLocalPart,
		word:      randomWord,
	}
}

// PageSize 返回列表每页条数。
func (s *AliasService) PageSize() int {
	return s.cfg.PageLimit
}

// CreateAliasInput 定义创建别名的输入。
type CreateAliasInput struct {
	Prefix string // 为空时随机生成
	Suffix string // 可选，缺省为一个随机单词
	Domain string // 可选，缺省为第一个可用域名
	Note   *string
}

// Create 创建一个新的别名。
func (s *AliasService) Create(uow storage.UnitOfWork, user *domain.User, in CreateAliasInput) (*domain.Alias, error) {
	aliasDomain, err := s.pickDomain(in.Domain)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Prefix) == "" {
		return s.createRandom(uow, user, aliasDomain, in.Note)
	}

	prefix, err := domain.NormalizePrefix(in.Prefix)
	if err != nil {
		return nil, err
	}
	suffix := s.word()
	if strings.TrimSpace(in.Suffix) != "" {
		if suffix, err = domain.NormalizePrefix(in.Suffix); err != nil {
			return nil, err
		}
	}

	alias := &domain.Alias{
		UserID:    user.ID,
		Email:     fmt.Sprintf("%s.%s@%s", prefix, suffix, aliasDomain),
		Enabled:   true,
		Note:      in.Note,
		CreatedAt: s.now(),
	}
	if err := uow.Aliases().CreateAlias(alias); err != nil {
		return nil, domain.Internal("create alias", err)
	}
	s.created(uow, alias, "custom")
	return alias, nil
}

// CreateRandom 在默认域名下创建随机别名，注册流程用它生成默认别名。
func (s *AliasService) CreateRandom(uow storage.UnitOfWork, user *domain.User, note *string) (*domain.Alias, error) {
	aliasDomain, err := s.pickDomain("")
	if err != nil {
		return nil, err
	}
	return s.createRandom(uow, user, aliasDomain, note)
}

// createRandom 有界重试生成空闲地址，预算用尽返回 ErrAliasUnavailable。
func (s *AliasService) createRandom(uow storage.UnitOfWork, user *domain.User, aliasDomain string, note *string) (*domain.Alias, error) {
	for attempt := 0; attempt < s.cfg.MaxRandomAttempts; attempt++ {
		email := s.localPart() + "@" + aliasDomain
		taken, err := uow.Aliases().AliasEmailTaken(email)
		if err != nil {
			return nil, domain.Internal("check alias", err)
		}
		if taken {
			continue
		}

		alias := &domain.Alias{
			UserID:    user.ID,
			Email:     email,
			Enabled:   true,
			Note:      note,
			CreatedAt: s.now(),
		}
		err = uow.Aliases().CreateAlias(alias)
		if errors.Is(err, domain.ErrAliasExists) {
			continue
		}
		if err != nil {
			return nil, domain.Internal("create alias", err)
		}
		s.created(uow, alias, "random")
		return alias, nil
	}

	s.log.Warn("random alias generation exhausted",
		zap.String("user_id", user.ID),
		zap.Int("attempts", s.cfg.MaxRandomAttempts),
	)
	return nil, domain.ErrAliasUnavailable
}

func (s *AliasService) created(uow storage.UnitOfWork, alias *domain.Alias, mode string) {
	uow.AfterCommit(func() {
		s.metrics.RecordAliasCreated(mode)
		s.log.Info("alias created",
			zap.Uint64("alias_id", alias.ID),
			zap.String("user_id", alias.UserID),
			zap.String("mode", mode),
		)
	})
}

func (s *AliasService) pickDomain(requested string) (string, error) {
	if len(s.cfg.Domains) == 0 {
		return "", domain.Internal("pick domain", errors.New("no alias domain configured"))
	}
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		return s.cfg.Domains[0], nil
	}
	for _, d := range s.cfg.Domains {
		if d == requested {
			return d, nil
		}
	}
	return "", domain.ErrDomainNotAllowed
}

// Get 获取用户自己的别名，不存在或不属于该用户都返回 ErrAliasNotFound。
func (s *AliasService) Get(uow storage.UnitOfWork, user *domain.User, id uint64) (*domain.Alias, error) {
	alias, err := uow.Aliases().GetAlias(id)
	if err != nil {
		return nil, domain.Internal("get alias", err)
	}
	if alias.UserID != user.ID {
		return nil, domain.ErrAliasNotFound
	}
	return alias, nil
}

// GetByEmail 根据地址查找别名，供收信适配器使用。
func (s *AliasService) GetByEmail(uow storage.UnitOfWork, email string) (*domain.Alias, error) {
	alias, err := uow.Aliases().GetAliasByEmail(strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, domain.Internal("get alias by email", err)
	}
	return alias, nil
}

// GetInfo 获取单个别名及其活动计数。
func (s *AliasService) GetInfo(uow storage.UnitOfWork, user *domain.User, id uint64) (*domain.AliasInfo, error) {
	alias, err := s.Get(uow, user, id)
	if err != nil {
		return nil, err
	}
	infos, err := s.withStats(uow, []domain.Alias{*alias})
	if err != nil {
		return nil, err
	}
	return &infos[0], nil
}

// List 按创建顺序分页列出别名，query 对地址做不区分大小写的子串匹配。
func (s *AliasService) List(uow storage.UnitOfWork, user *domain.User, pageID int, query string) ([]domain.AliasInfo, error) {
	aliases, err := uow.Aliases().ListAliases(s.query(user, pageID, query))
	if err != nil {
		return nil, domain.Internal("list aliases", err)
	}
	return s.withStats(uow, aliases)
}

// ListByActivity 按最近活动倒序分页列出别名，没有活动的排在最后，同组内按 ID 倒序。
// 每一项带上最近一次活动。
func (s *AliasService) ListByActivity(uow storage.UnitOfWork, user *domain.User, pageID int, query string) ([]domain.AliasInfo, error) {
	aliases, err := uow.Aliases().ListAliasesByActivity(s.query(user, pageID, query))
	if err != nil {
		return nil, domain.Internal("list aliases by activity", err)
	}
	infos, err := s.withStats(uow, aliases)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		latest, err := uow.EmailLogs().LatestActivity(infos[i].Alias.ID)
		if err != nil {
			return nil, domain.Internal("latest activity", err)
		}
		if latest != nil {
			view := domain.NewActivityView(&infos[i].Alias, latest)
			infos[i].Latest = &view
		}
	}
	return infos, nil
}

func (s *AliasService) query(user *domain.User, pageID int, query string) domain.AliasQuery {
	return domain.AliasQuery{
		UserID: user.ID,
		Search: strings.TrimSpace(query),
		Page:   domain.NewPage(pageID, s.cfg.PageLimit),
	}
}

func (s *AliasService) withStats(uow storage.UnitOfWork, aliases []domain.Alias) ([]domain.AliasInfo, error) {
	ids := make([]uint64, len(aliases))
	for i := range aliases {
		ids[i] = aliases[i].ID
	}
	stats, err := uow.EmailLogs().CountActivities(ids)
	if err != nil {
		return nil, domain.Internal("count activities", err)
	}
	infos := make([]domain.AliasInfo, len(aliases))
	for i, a := range aliases {
		infos[i] = domain.AliasInfo{Alias: a, Stats: stats[a.ID]}
	}
	return infos, nil
}

// Toggle 切换别名启用状态并返回新值。
func (s *AliasService) Toggle(uow storage.UnitOfWork, user *domain.User, id uint64) (bool, error) {
	alias, err := s.Get(uow, user, id)
	if err != nil {
		return false, err
	}
	alias.Enabled = !alias.Enabled
	if err := uow.Aliases().UpdateAlias(alias); err != nil {
		return false, domain.Internal("toggle alias", err)
	}
	return alias.Enabled, nil
}

// UpdateNote 更新别名备注，nil 表示清空。
func (s *AliasService) UpdateNote(uow storage.UnitOfWork, user *domain.User, id uint64, note *string) (*domain.Alias, error) {
	alias, err := s.Get(uow, user, id)
	if err != nil {
		return nil, err
	}
	alias.Note = note
	if err := uow.Aliases().UpdateAlias(alias); err != nil {
		return nil, domain.Internal("update alias note", err)
	}
	return alias, nil
}

// Delete 删除别名，级联删除联系人与活动，地址永久保留不再分配。
func (s *AliasService) Delete(uow storage.UnitOfWork, user *domain.User, id uint64) error {
	alias, err := s.Get(uow, user, id)
	if err != nil {
		return err
	}
	if err := uow.Aliases().DeleteAlias(alias); err != nil {
		return domain.Internal("delete alias", err)
	}
	uow.AfterCommit(func() {
		s.metrics.RecordAliasDeleted()
		s.log.Info("alias deleted", zap.Uint64("alias_id", alias.ID), zap.String("user_id", user.ID))
	})
	return nil
}
