package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/service"
	"relaymail/backend/internal/storage"
)

// BillingHandler 处理计费平台的 webhook 回调
type BillingHandler struct {
	store    storage.Store
	verifier service.Verifier
	billing  *service.BillingService
	log      *zap.Logger
}

// NewBillingHandler 创建计费回调处理器
func NewBillingHandler(store storage.Store, verifier service.Verifier, billing *service.BillingService, log *zap.Logger) *BillingHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingHandler{store: store, verifier: verifier, billing: billing, log: log}
}

// Callback godoc
// @Summary 计费 webhook
// @Description 表单字段带 p_signature 签名，处理订阅创建、续费和取消
// @Tags Billing
// @Accept x-www-form-urlencoded
// @Produce plain
// @Success 200 {string} string "OK"
// @Failure 400 {string} string "KO"
// @Router /paddle [post]
func (h *BillingHandler) Callback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "KO")
		return
	}
	fields := make(map[string]string, len(c.Request.Form))
	for k := range c.Request.Form {
		fields[k] = c.Request.Form.Get(k)
	}

	if err := h.verifier.Verify(fields); err != nil {
		h.log.Error("billing request not signed by the billing provider",
			zap.String("alert", fields["alert_name"]),
			zap.String("ip", c.ClientIP()),
		)
		c.String(http.StatusBadRequest, "KO")
		return
	}

	ev := service.NewBillingEvent(fields)
	h.log.Debug("billing callback", zap.String("alert", ev.Alert), zap.String("subscription_id", ev.SubscriptionID))

	uow, err := h.store.Begin(c.Request.Context())
	if err != nil {
		h.log.Error("begin unit of work", zap.Error(err))
		c.String(http.StatusInternalServerError, "KO")
		return
	}
	defer uow.Rollback()

	if err := h.billing.Handle(uow, ev); err != nil {
		switch {
		case errors.Is(err, domain.ErrNoSubscription):
			c.String(http.StatusBadRequest, GetErrorMessage(err))
		case errors.Is(err, domain.ErrBadRequest), errors.Is(err, domain.ErrNotFound):
			h.log.Warn("rejected billing event", zap.String("alert", ev.Alert), zap.Error(err))
			c.String(http.StatusBadRequest, "KO")
		default:
			h.log.Error("handle billing event", zap.String("alert", ev.Alert), zap.Error(err))
			c.String(http.StatusInternalServerError, "KO")
		}
		return
	}
	if err := uow.Commit(); err != nil {
		h.log.Error("commit billing event", zap.Error(err))
		c.String(http.StatusInternalServerError, "KO")
		return
	}
	c.String(http.StatusOK, "OK")
}
