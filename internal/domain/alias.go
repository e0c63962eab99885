package domain

import "time"

// Alias 表示用户的转发别名。
// 发往别名的邮件被转发到用户的真实邮箱，Email 在全系统唯一且创建后不可修改。
type Alias struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);index;not null"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Enabled   bool      `json:"enabled" gorm:"not null"`
	Note      *string   `json:"note" gorm:"type:text"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

// DeletedAlias 记录已删除别名的地址，防止地址被再次分配。
type DeletedAlias struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    string    `json:"userId" gorm:"type:varchar(36);index;not null"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActivityStats 别名的转发、回复、拦截计数。
type ActivityStats struct {
	Forward int `json:"nbForward"`
	Reply   int `json:"nbReply"`
	Block   int `json:"nbBlock"`
}

// Add 按类型累加一次活动。
func (s *ActivityStats) Add(kind ActivityKind, n int) {
	switch kind {
	case KindForward:
		s.Forward += n
	case KindReply:
		s.Reply += n
	case KindBlock:
		s.Block += n
	}
}

// AliasQuery 别名列表查询条件。
type AliasQuery struct {
	UserID string
	Search string // 对别名地址做不区分大小写的子串匹配，空表示不过滤
	Page   Page
}

// AliasInfo 别名列表项：别名本身加上活动计数，按活动排序的列表还会带上最近一次活动。
type AliasInfo struct {
	Alias  Alias
	Stats  ActivityStats
	Latest *ActivityView
}
