package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/storage"
)

// 计费 webhook 事件类型
const (
	AlertSubscriptionCreated   = "subscription_created"
	AlertSubscriptionPayment   = "subscription_payment_succeeded"
	AlertSubscriptionCancelled = "subscription_cancelled"
)

const (
	signatureField = "p_signature"
	billDateLayout = "2006-01-02"
)

// Verifier 校验 webhook 请求确实来自计费平台
type Verifier interface {
	Verify(fields map[string]string) error
}

// HMACVerifier 使用共享密钥校验 p_signature。
// 签名为除 p_signature 外所有字段按键排序后 "k=v" 以 & 连接的 HMAC-SHA256 十六进制值。
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier 创建签名校验器
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Sign 计算字段的签名
func (v *HMACVerifier) Sign(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != signatureField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	mac := hmac.New(sha256.New, v.secret)
	for i, k := range keys {
		if i > 0 {
			mac.Write([]byte{'&'})
		}
		mac.Write([]byte(k + "=" + fields[k]))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 校验签名
func (v *HMACVerifier) Verify(fields map[string]string) error {
	got, err := hex.DecodeString(fields[signatureField])
	if err != nil || len(got) == 0 {
		return domain.ErrBadSignature
	}
	want, _ := hex.DecodeString(v.Sign(fields))
	if !hmac.Equal(got, want) {
		return domain.ErrBadSignature
	}
	return nil
}

// BillingEvent 计费 webhook 的表单字段
type BillingEvent struct {
	Alert          string
	Email          string
	SubscriptionID string
	PlanID         string
	CancelURL      string
	UpdateURL      string
	NextBillDate   string
}

// NewBillingEvent 从表单字段构造事件
func NewBillingEvent(fields map[string]string) BillingEvent {
	return BillingEvent{
		Alert:          fields["alert_name"],
		Email:          fields["email"],
		SubscriptionID: fields["subscription_id"],
		PlanID:         fields["subscription_plan_id"],
		CancelURL:      fields["cancel_url"],
		UpdateURL:      fields["update_url"],
		NextBillDate:   fields["next_bill_date"],
	}
}

// BillingService 根据计费事件维护用户订阅
type BillingService struct {
	monthlyPlanID string
	log           *zap.Logger
	now           func() time.Time
}

// NewBillingService 创建计费服务
func NewBillingService(monthlyPlanID string, log *zap.Logger) *BillingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingService{
		monthlyPlanID: strings.TrimSpace(monthlyPlanID),
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Handle 处理一次计费事件，未知事件类型被忽略
func (s *BillingService) Handle(uow storage.UnitOfWork, ev BillingEvent) error {
	switch ev.Alert {
	case AlertSubscriptionCreated:
		return s.subscriptionCreated(uow, ev)
	case AlertSubscriptionPayment:
		return s.paymentSucceeded(uow, ev)
	case AlertSubscriptionCancelled:
		return s.subscriptionCancelled(uow, ev)
	default:
		s.log.Debug("ignore billing event", zap.String("alert", ev.Alert))
		return nil
	}
}

// subscriptionCreated 新建或覆盖用户订阅，并清除取消标记
func (s *BillingService) subscriptionCreated(uow storage.UnitOfWork, ev BillingEvent) error {
	user, err := uow.Users().GetUserByEmail(strings.ToLower(strings.TrimSpace(ev.Email)))
	if err != nil {
		return domain.Internal("lookup subscriber", err)
	}
	next, err := parseBillDate(ev.NextBillDate)
	if err != nil {
		return err
	}

	plan := domain.PlanYearly
	if strings.TrimSpace(ev.PlanID) == s.monthlyPlanID {
		plan = domain.PlanMonthly
	}

	sub, err := uow.Subscriptions().GetSubscriptionByUserID(user.ID)
	switch {
	case errors.Is(err, domain.ErrNoSubscription):
		sub = &domain.Subscription{UserID: user.ID, CreatedAt: s.now()}
		s.log.Info("create subscription", zap.String("user_id", user.ID))
	case err != nil:
		return domain.Internal("lookup subscription", err)
	default:
		s.log.Info("update subscription", zap.String("user_id", user.ID))
	}

	sub.SubscriptionID = ev.SubscriptionID
	sub.CancelURL = ev.CancelURL
	sub.UpdateURL = ev.UpdateURL
	sub.Plan = plan
	sub.EventTime = s.now()
	sub.NextBillDate = next
	sub.Cancelled = false
	sub.UpdatedAt = s.now()
	if err := uow.Subscriptions().SaveSubscription(sub); err != nil {
		return domain.Internal("save subscription", err)
	}
	return nil
}

func (s *BillingService) paymentSucceeded(uow storage.UnitOfWork, ev BillingEvent) error {
	sub, err := uow.Subscriptions().GetSubscriptionBySubscriptionID(ev.SubscriptionID)
	if err != nil {
		return domain.Internal("lookup subscription", err)
	}
	next, err := parseBillDate(ev.NextBillDate)
	if err != nil {
		return err
	}
	sub.EventTime = s.now()
	sub.NextBillDate = next
	sub.UpdatedAt = s.now()
	if err := uow.Subscriptions().SaveSubscription(sub); err != nil {
		return domain.Internal("save subscription", err)
	}
	return nil
}

func (s *BillingService) subscriptionCancelled(uow storage.UnitOfWork, ev BillingEvent) error {
	sub, err := uow.Subscriptions().GetSubscriptionBySubscriptionID(ev.SubscriptionID)
	if err != nil {
		return domain.Internal("lookup subscription", err)
	}
	s.log.Warn("cancel subscription",
		zap.String("subscription_id", sub.SubscriptionID),
		zap.String("user_id", sub.UserID),
		zap.Time("next_bill_date", sub.NextBillDate),
	)
	sub.EventTime = s.now()
	sub.Cancelled = true
	sub.UpdatedAt = s.now()
	if err := uow.Subscriptions().SaveSubscription(sub); err != nil {
		return domain.Internal("save subscription", err)
	}
	return nil
}

func parseBillDate(raw string) (time.Time, error) {
	t, err := time.Parse(billDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid next_bill_date %q", domain.ErrBadRequest, raw)
	}
	return t, nil
}
