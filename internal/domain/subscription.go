package domain

import "time"

// PlanType 订阅计划。
type PlanType string

const (
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// Subscription 用户的付费订阅，由计费 webhook 维护，每个用户至多一条。
type Subscription struct {
	ID             uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID         string    `json:"userId" gorm:"type:varchar(36);uniqueIndex;not null"`
	SubscriptionID string    `json:"subscriptionId" gorm:"type:varchar(64);uniqueIndex;not null"`
	Plan           PlanType  `json:"plan" gorm:"type:varchar(16);not null"`
	CancelURL      string    `json:"cancelUrl" gorm:"type:text"`
	UpdateURL      string    `json:"updateUrl" gorm:"type:text"`
	EventTime      time.Time `json:"eventTime"`
	NextBillDate   time.Time `json:"nextBillDate"`
	Cancelled      bool      `json:"cancelled" gorm:"not null"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
