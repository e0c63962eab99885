package memory

import (
	"sort"
	"strings"
	"time"

	"relaymail/backend/internal/domain"
)

// CreateAlias 创建别名并分配自增 ID。地址已被现存或已删除别名占用时返回 domain.ErrAliasExists。
func (t *tx) CreateAlias(alias *domain.Alias) error {
	if err := t.check(); err != nil {
		return err
	}
	email := strings.ToLower(alias.Email)
	if t.emailTaken(email) {
		return domain.ErrAliasExists
	}
	t.s.aliasSeq++
	alias.ID = t.s.aliasSeq
	alias.Email = email
	if alias.CreatedAt.IsZero() {
		alias.CreatedAt = time.Now().UTC()
	}
	cp := *alias
	set(t, t.s.aliases, cp.ID, &cp)
	set(t, t.s.byAlias, email, cp.ID)
	return nil
}

func (t *tx) emailTaken(email string) bool {
	if _, ok := t.s.byAlias[email]; ok {
		return true
	}
	_, ok := t.s.deleted[email]
	return ok
}

// GetAlias 根据 ID 获取别名。
func (t *tx) GetAlias(id uint64) (*domain.Alias, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	a, ok := t.s.aliases[id]
	if !ok {
		return nil, domain.ErrAliasNotFound
	}
	cp := *a
	return &cp, nil
}

// GetAliasByEmail 根据地址获取别名。
func (t *tx) GetAliasByEmail(email string) (*domain.Alias, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	id, ok := t.s.byAlias[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrAliasNotFound
	}
	return t.GetAlias(id)
}

// AliasEmailTaken 判断地址是否已被现存或已删除的别名占用。
func (t *tx) AliasEmailTaken(email string) (bool, error) {
	if err := t.check(); err != nil {
		return false, err
	}
	return t.emailTaken(strings.ToLower(email)), nil
}

// UpdateAlias 更新别名的启用状态与备注，地址不可修改。
func (t *tx) UpdateAlias(alias *domain.Alias) error {
	if err := t.check(); err != nil {
		return err
	}
	a, ok := t.s.aliases[alias.ID]
	if !ok {
		return domain.ErrAliasNotFound
	}
	cp := *a
	cp.Enabled = alias.Enabled
	cp.Note = alias.Note
	set(t, t.s.aliases, cp.ID, &cp)
	return nil
}

// DeleteAlias 删除别名及其联系人、活动日志，并保留地址墓碑。
func (t *tx) DeleteAlias(alias *domain.Alias) error {
	if err := t.check(); err != nil {
		return err
	}
	a, ok := t.s.aliases[alias.ID]
	if !ok {
		return domain.ErrAliasNotFound
	}
	for id, c := range t.s.contacts {
		if c.AliasID == a.ID {
			t.deleteContact(id)
		}
	}
	del(t, t.s.byAlias, a.Email)
	del(t, t.s.aliases, a.ID)

	if _, ok := t.s.deleted[a.Email]; !ok {
		t.s.deletedSeq++
		set(t, t.s.deleted, a.Email, &domain.DeletedAlias{
			ID:        t.s.deletedSeq,
			UserID:    a.UserID,
			Email:     a.Email,
			CreatedAt: time.Now().UTC(),
		})
	}
	return nil
}

func (t *tx) userAliases(q domain.AliasQuery) []domain.Alias {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]domain.Alias, 0)
	for _, a := range t.s.aliases {
		if a.UserID != q.UserID {
			continue
		}
		if search != "" && !strings.Contains(a.Email, search) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// ListAliases 按 ID 升序分页返回用户的别名。
func (t *tx) ListAliases(q domain.AliasQuery) ([]domain.Alias, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := t.userAliases(q)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, q.Page), nil
}

// ListAliasesByActivity 按最近活动时间倒序分页返回用户的别名。
// 没有活动的别名排在最后，同一时间或都没有活动时 ID 大的在前。
func (t *tx) ListAliasesByActivity(q domain.AliasQuery) ([]domain.Alias, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := t.userAliases(q)

	latest := make(map[uint64]time.Time, len(out))
	for _, l := range t.s.logs {
		c, ok := t.s.contacts[l.ContactID]
		if !ok {
			continue
		}
		if cur, ok := latest[c.AliasID]; !ok || l.CreatedAt.After(cur) {
			latest[c.AliasID] = l.CreatedAt
		}
	}

	sort.Slice(out, func(i, j int) bool {
		li, oki := latest[out[i].ID]
		lj, okj := latest[out[j].ID]
		if oki != okj {
			return oki
		}
		if oki && !li.Equal(lj) {
			return li.After(lj)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, q.Page), nil
}

// CountAliases 返回用户的别名数量。
func (t *tx) CountAliases(userID string) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	n := 0
	for _, a := range t.s.aliases {
		if a.UserID == userID {
			n++
		}
	}
	return n, nil
}
