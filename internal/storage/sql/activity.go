package sql

import (
	"relaymail/backend/internal/domain"
)

// CreateEmailLog 追加活动日志
func (u *uow) CreateEmailLog(log *domain.EmailLog) error {
	if !log.Kind.Valid() {
		return domain.ErrInvalidKind
	}
	return mapError("create email log", u.db.Create(log).Error, nil, nil)
}

func (u *uow) aliasLogs(aliasID uint64, offset, limit int) ([]domain.Activity, error) {
	logs := make([]domain.EmailLog, 0)
	err := u.db.Model(&domain.EmailLog{}).
		Select("email_logs.*").
		Joins("JOIN contacts ON contacts.id = email_logs.contact_id").
		Where("contacts.alias_id = ?", aliasID).
		Order("email_logs.created_at DESC").
		Order("email_logs.id DESC").
		Offset(offset).Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, domain.Internal("list activities", err)
	}
	if len(logs) == 0 {
		return []domain.Activity{}, nil
	}

	ids := make([]uint64, 0, len(logs))
	seen := make(map[uint64]bool, len(logs))
	for _, l := range logs {
		if !seen[l.ContactID] {
			seen[l.ContactID] = true
			ids = append(ids, l.ContactID)
		}
	}
	var contacts []domain.Contact
	if err := u.db.Where("id IN ?", ids).Find(&contacts).Error; err != nil {
		return nil, domain.Internal("load activity contacts", err)
	}
	byID := make(map[uint64]domain.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}

	out := make([]domain.Activity, 0, len(logs))
	for _, l := range logs {
		out = append(out, domain.Activity{Log: l, Contact: byID[l.ContactID]})
	}
	return out, nil
}

// ListActivities 分页返回别名的活动，最新的在前
func (u *uow) ListActivities(aliasID uint64, page domain.Page) ([]domain.Activity, error) {
	return u.aliasLogs(aliasID, page.Offset(), page.Limit())
}

// LatestActivity 返回别名最近一次活动
func (u *uow) LatestActivity(aliasID uint64) (*domain.Activity, error) {
	acts, err := u.aliasLogs(aliasID, 0, 1)
	if err != nil || len(acts) == 0 {
		return nil, err
	}
	return &acts[0], nil
}

type activityCountRow struct {
	AliasID uint64
	Kind    domain.ActivityKind
	N       int
}

// CountActivities 按别名和类型分组计数
func (u *uow) CountActivities(aliasIDs []uint64) (map[uint64]domain.ActivityStats, error) {
	out := make(map[uint64]domain.ActivityStats, len(aliasIDs))
	if len(aliasIDs) == 0 {
		return out, nil
	}
	for _, id := range aliasIDs {
		out[id] = domain.ActivityStats{}
	}

	var rows []activityCountRow
	err := u.db.Model(&domain.EmailLog{}).
		Select("contacts.alias_id AS alias_id, email_logs.kind AS kind, COUNT(*) AS n").
		Joins("JOIN contacts ON contacts.id = email_logs.contact_id").
		Where("contacts.alias_id IN ?", aliasIDs).
		Group("contacts.alias_id, email_logs.kind").
		Scan(&rows).Error
	if err != nil {
		return nil, domain.Internal("count activities", err)
	}
	for _, r := range rows {
		stats := out[r.AliasID]
		stats.Add(r.Kind, r.N)
		out[r.AliasID] = stats
	}
	return out, nil
}
