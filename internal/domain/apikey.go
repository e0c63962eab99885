package domain

import "time"

// codeHintLen 列表中展示的 code 前缀长度
const codeHintLen = 6

// APIKey 用户的 API 密钥，浏览器扩展等客户端通过 Authentication 头携带。
// Code 只在创建时返回一次，之后列表只展示 CodeHint。
type APIKey struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID     string     `json:"userId" gorm:"type:varchar(36);index;not null"`
	Code       string     `json:"-" gorm:"type:varchar(128);uniqueIndex;not null"`
	Name       string     `json:"name" gorm:"type:varchar(128)"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// CodeHint 返回 code 的前几位，便于用户在列表中辨认密钥
func (k *APIKey) CodeHint() string {
	if len(k.Code) <= codeHintLen {
		return k.Code
	}
	return k.Code[:codeHintLen] + "…"
}
