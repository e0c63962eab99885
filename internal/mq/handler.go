package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/monitoring"
	"relaymail/backend/internal/service"
	"relaymail/backend/internal/storage"
)

const ingestSource = "amqp"

// ErrMalformed 消息无法解析或字段无效，重新入队也不会成功。
var ErrMalformed = errors.New("malformed mail event")

// MailEventMessage 外部邮件流水线发布的 mail.event 消息体。
// Alias 是收件地址（别名或反向别名），Contact 是发件人。
type MailEventMessage struct {
	Alias       string `json:"alias"`
	Contact     string `json:"contact"`
	ContactName string `json:"contact_name,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// EventHandler 在独立的工作单元中处理一条邮件事件。
type EventHandler struct {
	store   storage.Store
	ingest  *service.IngestService
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewEventHandler 创建邮件事件处理器
func NewEventHandler(store storage.Store, ingest *service.IngestService, metrics *monitoring.Metrics, log *zap.Logger) *EventHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventHandler{store: store, ingest: ingest, metrics: metrics, log: log}
}

// Handle 解析并处理消息体。
// 返回包裹 ErrMalformed 的错误表示消息应当丢弃，其它错误表示可以重试。
func (h *EventHandler) Handle(ctx context.Context, body []byte) (err error) {
	start := time.Now()
	defer func() {
		h.metrics.RecordIngest(ingestSource, resultOf(err), time.Since(start))
	}()

	ev, err := decode(body)
	if err != nil {
		return err
	}

	uow, err := h.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer uow.Rollback()

	res, err := h.ingest.Handle(uow, ev)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownRecipient) || errors.Is(err, domain.ErrBadRequest) {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return err
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit mail event: %w", err)
	}

	h.log.Debug("mail event recorded",
		zap.String("alias", ev.Recipient),
		zap.String("kind", string(res.Log.Kind)),
		zap.Uint64("alias_id", res.Alias.ID),
	)
	return nil
}

func decode(body []byte) (service.MailEvent, error) {
	var msg MailEventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return service.MailEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg.Alias = strings.ToLower(strings.TrimSpace(msg.Alias))
	if msg.Alias == "" || strings.TrimSpace(msg.Contact) == "" {
		return service.MailEvent{}, fmt.Errorf("%w: alias and contact are required", ErrMalformed)
	}
	kind := domain.ActivityKind(strings.ToLower(strings.TrimSpace(msg.Kind)))
	if kind != "" && !kind.Valid() {
		return service.MailEvent{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, msg.Kind)
	}
	return service.MailEvent{
		Sender:     strings.TrimSpace(msg.Contact),
		SenderName: msg.ContactName,
		Recipient:  msg.Alias,
		Kind:       kind,
	}, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformed):
		return "rejected"
	default:
		return "error"
	}
}
