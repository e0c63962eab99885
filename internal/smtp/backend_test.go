package smtp

import (
	"context"
	"strings"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaymail/backend/internal/config"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/service"
	"relaymail/backend/internal/storage"
	"relaymail/backend/internal/storage/memory"
)

type fixture struct {
	store    *memory.Store
	backend  *Backend
	aliases  *service.AliasService
	contacts *service.ContactService
	user     *domain.User
	alias    *domain.Alias
}

func newFixture(t *testing.T, limiter *ConnectionLimiter) *fixture {
	t.Helper()
	cfg := config.AliasConfig{
		Domains:           []string{"relay.mail"},
		ReverseDomain:     "reply.relay.mail",
		PageLimit:         20,
		MaxRandomAttempts: 10,
	}
	f := &fixture{
		store:    memory.NewStore(),
		aliases:  service.NewAliasService(cfg, nil, nil),
		contacts: service.NewContactService(cfg, nil, nil),
		user:     &domain.User{ID: "u1", Email: "john@example.com", IsActive: true},
	}
	activities := service.NewActivityService(cfg.PageLimit, nil, nil, nil)
	ingest := service.NewIngestService(f.aliases, f.contacts, activities, nil)
	f.backend = NewBackend(f.store, ingest, limiter, 0, nil, nil)

	f.tx(t, func(uow storage.UnitOfWork) {
		require.NoError(t, uow.Users().CreateUser(f.user))
		var err error
		f.alias, err = f.aliases.Create(uow, f.user, service.CreateAliasInput{Prefix: "shop", Suffix: "x"})
		require.NoError(t, err)
	})
	return f
}

func (f *fixture) tx(t *testing.T, fn func(uow storage.UnitOfWork)) {
	t.Helper()
	uow, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	defer uow.Rollback()
	fn(uow)
	require.NoError(t, uow.Commit())
}

func (f *fixture) session(t *testing.T) gosmtp.Session {
	t.Helper()
	sess, err := f.backend.NewSession(nil)
	require.NoError(t, err)
	return sess
}

func (f *fixture) contact(t *testing.T, addr string) *domain.Contact {
	t.Helper()
	var c *domain.Contact
	f.tx(t, func(uow storage.UnitOfWork) {
		var err error
		c, err = uow.Contacts().GetContactByAliasAndEmail(f.alias.ID, addr)
		require.NoError(t, err)
	})
	return c
}

func (f *fixture) activities(t *testing.T) []domain.Activity {
	t.Helper()
	var list []domain.Activity
	f.tx(t, func(uow storage.UnitOfWork) {
		var err error
		list, err = uow.EmailLogs().ListActivities(f.alias.ID, domain.NewPage(0, 100))
		require.NoError(t, err)
	})
	return list
}

const message = "From: Shop Team <news@shop.com>\r\n" +
	"To: shop.x@relay.mail\r\n" +
	"Subject: hello\r\n" +
	"\r\n" +
	"body\r\n"

func smtpCode(t *testing.T, err error) int {
	t.Helper()
	var smtpErr *gosmtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	return smtpErr.Code
}

func TestSession_Forward(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)

	require.NoError(t, sess.Mail("<News@Shop.com>", nil))
	require.NoError(t, sess.Rcpt("<shop.x@relay.mail>", nil))
	require.NoError(t, sess.Data(strings.NewReader(message)))
	require.NoError(t, sess.Logout())

	c := f.contact(t, "news@shop.com")
	require.NotNil(t, c.Name)
	assert.Equal(t, "Shop Team", *c.Name)

	list := f.activities(t)
	require.Len(t, list, 1)
	assert.Equal(t, domain.KindForward, list[0].Log.Kind)
}

func TestSession_Block(t *testing.T) {
	f := newFixture(t, nil)
	f.tx(t, func(uow storage.UnitOfWork) {
		enabled, err := f.aliases.Toggle(uow, f.user, f.alias.ID)
		require.NoError(t, err)
		require.False(t, enabled)
	})

	sess := f.session(t)
	require.NoError(t, sess.Mail("news@shop.com", nil))
	require.NoError(t, sess.Rcpt("shop.x@relay.mail", nil))
	require.NoError(t, sess.Data(strings.NewReader(message)))

	list := f.activities(t)
	require.Len(t, list, 1)
	assert.Equal(t, domain.KindBlock, list[0].Log.Kind)
}

func TestSession_Reply(t *testing.T) {
	f := newFixture(t, nil)
	var reply string
	f.tx(t, func(uow storage.UnitOfWork) {
		c, err := f.contacts.Create(uow, f.alias, "news@shop.com", nil)
		require.NoError(t, err)
		reply = c.ReplyEmail
	})

	sess := f.session(t)
	require.NoError(t, sess.Mail("john@example.com", nil))
	require.NoError(t, sess.Rcpt(reply, nil))
	require.NoError(t, sess.Data(strings.NewReader("From: john@example.com\r\n\r\nhi\r\n")))

	list := f.activities(t)
	require.Len(t, list, 1)
	assert.Equal(t, domain.KindReply, list[0].Log.Kind)
}

func TestSession_Rcpt(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)

	t.Run("未知收件人返回 550", func(t *testing.T) {
		assert.Equal(t, 550, smtpCode(t, sess.Rcpt("nobody@relay.mail", nil)))
	})

	t.Run("外部地址返回 550", func(t *testing.T) {
		assert.Equal(t, 550, smtpCode(t, sess.Rcpt("someone@gmail.com", nil)))
	})

	t.Run("非法地址返回 501", func(t *testing.T) {
		assert.Equal(t, 501, smtpCode(t, sess.Rcpt("not-an-address", nil)))
	})
}

func TestSession_DataWithoutSender(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)

	require.NoError(t, sess.Mail("", nil))
	require.NoError(t, sess.Rcpt("shop.x@relay.mail", nil))
	err := sess.Data(strings.NewReader("Subject: bounce\r\n\r\n"))
	assert.Equal(t, 550, smtpCode(t, err))
	assert.Empty(t, f.activities(t))
}

func TestSession_HeaderSenderFallback(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.session(t)

	require.NoError(t, sess.Mail("", nil))
	require.NoError(t, sess.Rcpt("shop.x@relay.mail", nil))
	require.NoError(t, sess.Data(strings.NewReader(message)))

	assert.Len(t, f.activities(t), 1)
	assert.NotNil(t, f.contact(t, "news@shop.com"))
}

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发连接上限", func(t *testing.T) {
		l := NewConnectionLimiter(1, 100)
		assert.True(t, l.Acquire())
		assert.False(t, l.Acquire())
		l.Release()
		assert.True(t, l.Acquire())
		assert.Equal(t, 1, l.Current())
	})

	t.Run("会话结束释放连接", func(t *testing.T) {
		l := NewConnectionLimiter(1, 100)
		f := newFixture(t, l)

		sess := f.session(t)
		_, err := f.backend.NewSession(nil)
		assert.Equal(t, 421, smtpCode(t, err))

		require.NoError(t, sess.Logout())
		require.NoError(t, sess.Logout())
		assert.Equal(t, 0, l.Current())

		_, err = f.backend.NewSession(nil)
		assert.NoError(t, err)
	})
}

func TestConnectionLimiter_Rate(t *testing.T) {
	l := NewConnectionLimiter(10, 2)
	assert.True(t, l.Acquire())
	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire(), "突发额度用尽")
	assert.Equal(t, 2, l.Current())

	l.Release()
	l.Release()
	l.Release()
	assert.Equal(t, 0, l.Current())
}
