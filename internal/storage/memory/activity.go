package memory

import (
	"time"

	"relaymail/backend/internal/domain"
)

// CreateEmailLog 追加一条活动日志。
func (t *tx) CreateEmailLog(log *domain.EmailLog) error {
	if err := t.check(); err != nil {
		return err
	}
	if !log.Kind.Valid() {
		return domain.ErrInvalidKind
	}
	if _, ok := t.s.contacts[log.ContactID]; !ok {
		return domain.ErrContactNotFound
	}
	t.s.logSeq++
	log.ID = t.s.logSeq
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	cp := *log
	set(t, t.s.logs, cp.ID, &cp)
	return nil
}

func (t *tx) aliasActivities(aliasID uint64) []domain.Activity {
	out := make([]domain.Activity, 0)
	for _, l := range t.s.logs {
		c, ok := t.s.contacts[l.ContactID]
		if !ok || c.AliasID != aliasID {
			continue
		}
		out = append(out, domain.Activity{Log: *l, Contact: *c})
	}
	sortActivities(out)
	return out
}

// ListActivities 分页返回别名全部联系人的活动，最新的在前。
func (t *tx) ListActivities(aliasID uint64, page domain.Page) ([]domain.Activity, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return paginate(t.aliasActivities(aliasID), page), nil
}

// LatestActivity 返回别名最近一次活动。
func (t *tx) LatestActivity(aliasID uint64) (*domain.Activity, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	all := t.aliasActivities(aliasID)
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

// CountActivities 统计每个别名各类型活动数量。
func (t *tx) CountActivities(aliasIDs []uint64) (map[uint64]domain.ActivityStats, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make(map[uint64]domain.ActivityStats, len(aliasIDs))
	want := make(map[uint64]bool, len(aliasIDs))
	for _, id := range aliasIDs {
		want[id] = true
		out[id] = domain.ActivityStats{}
	}
	for _, l := range t.s.logs {
		c, ok := t.s.contacts[l.ContactID]
		if !ok || !want[c.AliasID] {
			continue
		}
		stats := out[c.AliasID]
		stats.Add(l.Kind, 1)
		out[c.AliasID] = stats
	}
	return out, nil
}
