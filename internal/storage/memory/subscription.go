package memory

import (
	"time"

	"relaymail/backend/internal/domain"
)

// GetSubscriptionByUserID 获取用户的订阅。
func (t *tx) GetSubscriptionByUserID(userID string) (*domain.Subscription, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	s, ok := t.s.subs[userID]
	if !ok {
		return nil, domain.ErrNoSubscription
	}
	cp := *s
	return &cp, nil
}

// GetSubscriptionBySubscriptionID 根据计费平台的订阅 ID 获取订阅。
func (t *tx) GetSubscriptionBySubscriptionID(subscriptionID string) (*domain.Subscription, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	userID, ok := t.s.bySubID[subscriptionID]
	if !ok {
		return nil, domain.ErrNoSubscription
	}
	return t.GetSubscriptionByUserID(userID)
}

// SaveSubscription 新建或更新订阅，每个用户至多一条。
func (t *tx) SaveSubscription(sub *domain.Subscription) error {
	if err := t.check(); err != nil {
		return err
	}
	now := time.Now().UTC()
	existing, has := t.s.subs[sub.UserID]
	if sub.ID == 0 {
		if has {
			return domain.ErrSubscriptionFound
		}
		t.s.subSeq++
		sub.ID = t.s.subSeq
		sub.CreatedAt = now
	} else if !has || existing.ID != sub.ID {
		return domain.ErrNoSubscription
	}
	if owner, ok := t.s.bySubID[sub.SubscriptionID]; ok && owner != sub.UserID {
		return domain.ErrSubscriptionFound
	}
	if has && existing.SubscriptionID != sub.SubscriptionID {
		del(t, t.s.bySubID, existing.SubscriptionID)
	}
	sub.UpdatedAt = now
	cp := *sub
	set(t, t.s.subs, cp.UserID, &cp)
	set(t, t.s.bySubID, cp.SubscriptionID, cp.UserID)
	return nil
}
