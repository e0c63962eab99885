package smtp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // 非 UTF-8 的显示名解码
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"relaymail/backend/internal/config"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/monitoring"
	"relaymail/backend/internal/service"
	"relaymail/backend/internal/storage"
)

const ingestSource = "smtp"

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只记录活动的收信适配器，不投递也不中继任何邮件：
// 发往别名的邮件记为 forward（别名禁用时为 block），
// 发往反向别名的邮件记为 reply，其它收件人一律 550 拒绝。
type Backend struct {
	store   storage.Store
	ingest  *service.IngestService
	limiter *ConnectionLimiter // 为 nil 时不限制连接
	metrics *monitoring.Metrics
	log     *zap.Logger
	maxSize int64
}

// NewBackend 创建 SMTP Backend。
func NewBackend(store storage.Store, ingest *service.IngestService, limiter *ConnectionLimiter, maxSize int64, metrics *monitoring.Metrics, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	return &Backend{
		store:   store,
		ingest:  ingest,
		limiter: limiter,
		metrics: metrics,
		log:     log,
		maxSize: maxSize,
	}
}

// NewServer 按配置创建 SMTP 服务器
func NewServer(cfg config.SMTPConfig, backend *Backend) *gosmtp.Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	return srv
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b}, nil
}

type session struct {
	backend    *Backend
	from       string
	recipients []string
	released   bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令，只接受已知的别名或反向别名。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)
	if err := domain.ValidateEmail(addr); err != nil {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	ok, err := s.accepts(addr)
	if err != nil {
		s.backend.log.Error("lookup recipient", zap.String("rcpt", addr), zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	}
	if !ok {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient not found",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

func (s *session) accepts(addr string) (bool, error) {
	uow, err := s.backend.store.Begin(context.Background())
	if err != nil {
		return false, err
	}
	defer uow.Rollback()
	return s.backend.ingest.Accepts(uow, addr)
}

// Data 读取邮件头，为每个收件人记录一次活动。
func (s *session) Data(r io.Reader) error {
	br := bufio.NewReader(io.LimitReader(r, s.backend.maxSize))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message header",
		}
	}
	// 正文不需要，读完即可
	_, _ = io.Copy(io.Discard, br)

	sender, name := senderOf(s.from, mail.Header{Header: gomessage.Header{Header: header}})
	if sender == "" {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 7},
			Message:      "sender address required",
		}
	}

	var failed bool
	for _, rcpt := range s.recipients {
		if err := s.deliver(sender, name, rcpt); err != nil {
			failed = true
		}
	}
	if failed {
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary failure, try again later",
		}
	}
	return nil
}

// deliver 在独立的工作单元中记录一个收件人的活动
func (s *session) deliver(sender, name, rcpt string) error {
	start := time.Now()
	result := "ok"
	defer func() {
		s.backend.metrics.RecordIngest(ingestSource, result, time.Since(start))
	}()

	uow, err := s.backend.store.Begin(context.Background())
	if err != nil {
		result = "error"
		s.backend.log.Error("begin unit of work", zap.Error(err))
		return err
	}
	defer uow.Rollback()

	res, err := s.backend.ingest.Handle(uow, service.MailEvent{
		Sender:     sender,
		SenderName: name,
		Recipient:  rcpt,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownRecipient) || errors.Is(err, domain.ErrBadRequest) {
			// 收件人在 RCPT 之后被删除，或发件人地址无效，重试也不会成功
			result = "rejected"
			s.backend.log.Warn("mail event rejected", zap.String("rcpt", rcpt), zap.String("from", sender), zap.Error(err))
			return nil
		}
		result = "error"
		s.backend.log.Error("handle mail event", zap.String("rcpt", rcpt), zap.Error(err))
		return err
	}
	if err := uow.Commit(); err != nil {
		result = "error"
		s.backend.log.Error("commit mail event", zap.String("rcpt", rcpt), zap.Error(err))
		return err
	}

	s.backend.log.Debug("mail event recorded",
		zap.String("rcpt", rcpt),
		zap.String("kind", string(res.Log.Kind)),
		zap.Uint64("alias_id", res.Alias.ID),
	)
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.backend.limiter != nil && !s.released {
		s.released = true
		s.backend.limiter.Release()
	}
	return nil
}

// senderOf 返回发件人地址和显示名。
// 信封发件人优先，缺失时（例如退信）退回 From 头。
func senderOf(envelope string, h mail.Header) (addr, name string) {
	addr = envelope
	list, err := h.AddressList("From")
	if err != nil || len(list) == 0 {
		return addr, ""
	}
	from := list[0]
	if addr == "" {
		addr = strings.ToLower(from.Address)
	}
	if strings.EqualFold(from.Address, addr) {
		name = strings.TrimSpace(from.Name)
	}
	return addr, name
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
