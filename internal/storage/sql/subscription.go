package sql

import (
	"relaymail/backend/internal/domain"
)

// GetSubscriptionByUserID 获取用户订阅
func (u *uow) GetSubscriptionByUserID(userID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := u.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, mapError("get subscription", err, domain.ErrNoSubscription, nil)
	}
	return &sub, nil
}

// GetSubscriptionBySubscriptionID 根据计费平台订阅 ID 获取订阅
func (u *uow) GetSubscriptionBySubscriptionID(subscriptionID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := u.db.Where("subscription_id = ?", subscriptionID).First(&sub).Error; err != nil {
		return nil, mapError("get subscription", err, domain.ErrNoSubscription, nil)
	}
	return &sub, nil
}

// SaveSubscription 新建或更新订阅
func (u *uow) SaveSubscription(sub *domain.Subscription) error {
	if sub.ID == 0 {
		return mapError("create subscription", u.db.Create(sub).Error, nil, domain.ErrSubscriptionFound)
	}
	return mapError("update subscription", u.db.Save(sub).Error, nil, domain.ErrSubscriptionFound)
}
