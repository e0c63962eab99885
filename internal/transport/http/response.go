package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"relaymail/backend/internal/domain"
)

// dateLayout creation_date 等字段的格式，统一使用 UTC
const dateLayout = "2006-01-02 15:04:05-07:00"

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error string `json:"error"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// Unauthorized 未认证错误（401）
func Unauthorized(c *gin.Context, msg string) {
	Error(c, http.StatusUnauthorized, msg)
}

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, msg)
}

// Error 通用错误响应
func Error(c *gin.Context, httpCode int, msg string) {
	c.JSON(httpCode, ErrorResponse{Error: msg})
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// AliasItem 别名列表项
type AliasItem struct {
	ID                uint64  `json:"id"`
	Email             string  `json:"email"`
	CreationDate      string  `json:"creation_date"`
	CreationTimestamp int64   `json:"creation_timestamp"`
	NbForward         int     `json:"nb_forward"`
	NbBlock           int     `json:"nb_block"`
	NbReply           int     `json:"nb_reply"`
	Enabled           bool    `json:"enabled"`
	Note              *string `json:"note"`
}

// AliasItemV2 带最近活动的别名列表项
type AliasItemV2 struct {
	AliasItem
	LatestActivity *LatestActivityItem `json:"latest_activity"`
}

// LatestActivityItem 最近一次活动
type LatestActivityItem struct {
	Action    string              `json:"action"`
	Timestamp int64               `json:"timestamp"`
	Contact   ActivityContactItem `json:"contact"`
}

// ActivityContactItem 活动中的联系人
type ActivityContactItem struct {
	Email        string  `json:"email"`
	Name         *string `json:"name"`
	ReverseAlias string  `json:"reverse_alias"`
}

// ContactItem 联系人列表项
type ContactItem struct {
	ID                     uint64  `json:"id"`
	CreationDate           string  `json:"creation_date"`
	CreationTimestamp      int64   `json:"creation_timestamp"`
	LastEmailSentDate      *string `json:"last_email_sent_date"`
	LastEmailSentTimestamp *int64  `json:"last_email_sent_timestamp"`
	Contact                string  `json:"contact"`
	ReverseAlias           string  `json:"reverse_alias"`
}

// ActivityItem 活动列表项
type ActivityItem struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Timestamp    int64  `json:"timestamp"`
	Action       string `json:"action"`
	ReverseAlias string `json:"reverse_alias"`
}

func toAliasItem(info *domain.AliasInfo) AliasItem {
	a := info.Alias
	return AliasItem{
		ID:                a.ID,
		Email:             a.Email,
		CreationDate:      formatDate(a.CreatedAt),
		CreationTimestamp: a.CreatedAt.Unix(),
		NbForward:         info.Stats.Forward,
		NbBlock:           info.Stats.Block,
		NbReply:           info.Stats.Reply,
		Enabled:           a.Enabled,
		Note:              a.Note,
	}
}

func toAliasItemV2(info *domain.AliasInfo) AliasItemV2 {
	item := AliasItemV2{AliasItem: toAliasItem(info)}
	if v := info.Latest; v != nil {
		item.LatestActivity = &LatestActivityItem{
			Action:    string(v.Action),
			Timestamp: v.Timestamp.Unix(),
			Contact: ActivityContactItem{
				Email:        v.Contact.Email,
				Name:         v.Contact.Name,
				ReverseAlias: v.Contact.ReverseAlias,
			},
		}
	}
	return item
}

func toContactItem(info *domain.ContactInfo) ContactItem {
	c := info.Contact
	item := ContactItem{
		ID:                c.ID,
		CreationDate:      formatDate(c.CreatedAt),
		CreationTimestamp: c.CreatedAt.Unix(),
		Contact:           c.WebsiteEmail,
		ReverseAlias:      c.ReverseAlias(),
	}
	if info.LastEmailAt != nil {
		date := formatDate(*info.LastEmailAt)
		ts := info.LastEmailAt.Unix()
		item.LastEmailSentDate = &date
		item.LastEmailSentTimestamp = &ts
	}
	return item
}

func toActivityItem(v *domain.ActivityView) ActivityItem {
	return ActivityItem{
		From:         v.From,
		To:           v.To,
		Timestamp:    v.Timestamp.Unix(),
		Action:       string(v.Action),
		ReverseAlias: v.ReverseAlias,
	}
}
