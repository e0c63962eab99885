package domain

import "time"

// User 表示注册用户的业务实体。
// Email 同时是用户的默认收件邮箱，所有别名的邮件都转发到这里。
type User struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string     `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Name         string     `json:"name" gorm:"type:varchar(128)"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255)"` // 不返回给前端
	IsActive     bool       `json:"isActive" gorm:"not null"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}
