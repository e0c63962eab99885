package domain

import "time"

// ActivityKind 邮件事件类型，三者互斥。
type ActivityKind string

const (
	KindForward ActivityKind = "forward" // 外部联系人 -> 别名，已转发到用户
	KindReply   ActivityKind = "reply"   // 用户经反向别名回复联系人
	KindBlock   ActivityKind = "block"   // 别名被禁用，邮件被拦截
)

// Valid 判断是否为已知类型。
func (k ActivityKind) Valid() bool {
	switch k {
	case KindForward, KindReply, KindBlock:
		return true
	}
	return false
}

// ParseActivityKind 解析外部输入的事件类型。
func ParseActivityKind(raw string) (ActivityKind, error) {
	k := ActivityKind(raw)
	if !k.Valid() {
		return "", ErrInvalidKind
	}
	return k, nil
}

// EmailLog 一次邮件事件的不可变记录，只追加，仅随联系人或别名级联删除。
type EmailLog struct {
	ID        uint64       `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    string       `json:"userId" gorm:"type:varchar(36);index;not null"`
	ContactID uint64       `json:"contactId" gorm:"index;not null"`
	Kind      ActivityKind `json:"kind" gorm:"type:varchar(16);not null"`
	CreatedAt time.Time    `json:"createdAt" gorm:"index"`
}

// Activity 日志及其所属联系人，由存储层联表查询得到。
type Activity struct {
	Log     EmailLog
	Contact Contact
}

// ActivityContact 活动视图中的联系人摘要。
type ActivityContact struct {
	Email        string
	Name         *string
	ReverseAlias string
}

// ActivityView 面向展示的活动记录，From/To 已按方向换算。
type ActivityView struct {
	Action       ActivityKind
	From         string
	To           string
	Timestamp    time.Time
	ReverseAlias string
	Contact      ActivityContact
}

// NewActivityView 根据事件方向计算收发地址。
// forward 与 block 是联系人发往别名，reply 是别名发往联系人。
func NewActivityView(alias *Alias, a *Activity) ActivityView {
	reverse := a.Contact.ReverseAlias()
	v := ActivityView{
		Action:       a.Log.Kind,
		From:         a.Contact.WebsiteEmail,
		To:           alias.Email,
		Timestamp:    a.Log.CreatedAt,
		ReverseAlias: reverse,
		Contact: ActivityContact{
			Email:        a.Contact.WebsiteEmail,
			Name:         a.Contact.Name,
			ReverseAlias: reverse,
		},
	}
	if a.Log.Kind == KindReply {
		v.From, v.To = alias.Email, a.Contact.WebsiteEmail
	}
	return v
}
