package domain

import (
	"fmt"
	"strings"
	"time"
)

// Contact 表示与某个别名通信过的外部联系人。
// ReplyEmail 是反向别名：用户回复该地址时，邮件经由别名路由回联系人。
// (AliasID, WebsiteEmail) 唯一。
type Contact struct {
	ID           uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       string    `json:"userId" gorm:"type:varchar(36);index;not null"`
	AliasID      uint64    `json:"aliasId" gorm:"not null;uniqueIndex:idx_contact_alias_website"`
	WebsiteEmail string    `json:"websiteEmail" gorm:"type:varchar(255);not null;uniqueIndex:idx_contact_alias_website"`
	Name         *string   `json:"name" gorm:"type:varchar(255)"`
	ReplyEmail   string    `json:"replyEmail" gorm:"type:varchar(255);uniqueIndex;not null"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ReverseAlias 返回带显示名的反向别名，例如 "c1 at example.com" <ra+xxx@relay.mail>。
func (c *Contact) ReverseAlias() string {
	display := strings.ReplaceAll(c.WebsiteEmail, "@", " at ")
	if c.Name != nil && *c.Name != "" {
		display = *c.Name + " | " + display
	}
	return fmt.Sprintf("%q <%s>", display, c.ReplyEmail)
}

// ContactInfo 联系人列表项。
type ContactInfo struct {
	Contact     Contact
	LastEmailAt *time.Time // 最近一封邮件的时间，没有任何记录时为 nil
}
