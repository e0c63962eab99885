package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relaymail/backend/internal/config"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/service"
	"relaymail/backend/internal/storage"
	"relaymail/backend/internal/storage/memory"
)

type fixture struct {
	store    *memory.Store
	handler  *EventHandler
	contacts *service.ContactService
	alias    *domain.Alias
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.AliasConfig{
		Domains:       []string{"relay.mail"},
		ReverseDomain: "reply.relay.mail",
	}
	aliases := service.NewAliasService(cfg, nil, nil)
	f := &fixture{
		store:    memory.NewStore(),
		contacts: service.NewContactService(cfg, nil, nil),
	}
	activities := service.NewActivityService(cfg.PageLimit, nil, nil, nil)
	f.handler = NewEventHandler(f.store, service.NewIngestService(aliases, f.contacts, activities, nil), nil, nil)

	user := &domain.User{ID: "u1", Email: "john@example.com", IsActive: true}
	f.tx(t, func(uow storage.UnitOfWork) {
		require.NoError(t, uow.Users().CreateUser(user))
		var err error
		f.alias, err = aliases.Create(uow, user, service.CreateAliasInput{Prefix: "shop", Suffix: "x"})
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

func (f *fixture) kinds(t *testing.T) []domain.ActivityKind {
	t.Helper()
	var kinds []domain.ActivityKind
	f.tx(t, func(uow storage.UnitOfWork) {
		list, err := uow.EmailLogs().ListActivities(f.alias.ID, domain.NewPage(0, 100))
		require.NoError(t, err)
		for _, a := range list {
			kinds = append(kinds, a.Log.Kind)
		}
	})
	return kinds
}

func TestEventHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("发往别名记录 forward 并创建联系人", func(t *testing.T) {
		f := newFixture(t)
		body := `{"alias":"Shop.X@relay.mail","contact":"news@shop.com","contact_name":"Shop"}`
		require.NoError(t, f.handler.Handle(ctx, []byte(body)))

		assert.Equal(t, []domain.ActivityKind{domain.KindForward}, f.kinds(t))
		f.tx(t, func(uow storage.UnitOfWork) {
			c, err := uow.Contacts().GetContactByAliasAndEmail(f.alias.ID, "news@shop.com")
			require.NoError(t, err)
			require.NotNil(t, c.Name)
			assert.Equal(t, "Shop", *c.Name)
		})
	})

	t.Run("显式类型优先", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.handler.Handle(ctx, []byte(`{"alias":"shop.x@relay.mail","contact":"news@shop.com","kind":"block"}`)))
		assert.Equal(t, []domain.ActivityKind{domain.KindBlock}, f.kinds(t))
	})

	t.Run("发往反向别名记录 reply", func(t *testing.T) {
		f := newFixture(t)
		var reply string
		f.tx(t, func(uow storage.UnitOfWork) {
			c, err := f.contacts.Create(uow, f.alias, "news@shop.com", nil)
			require.NoError(t, err)
			reply = c.ReplyEmail
		})
		require.NoError(t, f.handler.Handle(ctx, []byte(`{"alias":"`+reply+`","contact":"john@example.com"}`)))
		assert.Equal(t, []domain.ActivityKind{domain.KindReply}, f.kinds(t))
	})

	t.Run("无效消息丢弃", func(t *testing.T) {
		f := newFixture(t)
		for _, body := range []string{
			`not json`,
			`{"alias":"shop.x@relay.mail"}`,
			`{"alias":"shop.x@relay.mail","contact":"news@shop.com","kind":"bounce"}`,
			`{"alias":"nobody@relay.mail","contact":"news@shop.com"}`,
			`{"alias":"shop.x@relay.mail","contact":"not-an-address"}`,
		} {
			assert.ErrorIs(t, f.handler.Handle(ctx, []byte(body)), ErrMalformed, body)
		}
		assert.Empty(t, f.kinds(t))
	})

	t.Run("上下文取消时可重试", func(t *testing.T) {
		f := newFixture(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := f.handler.Handle(cctx, []byte(`{"alias":"shop.x@relay.mail","contact":"news@shop.com"}`))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrMalformed)
	})
}

type mockDelivery struct {
	mock.Mock
}

func (m *mockDelivery) Ack(multiple bool) error {
	return m.Called(multiple).Error(0)
}

func (m *mockDelivery) Nack(multiple, requeue bool) error {
	return m.Called(multiple, requeue).Error(0)
}

func (m *mockDelivery) Reject(requeue bool) error {
	return m.Called(requeue).Error(0)
}

func TestConsumer_Settle(t *testing.T) {
	c := &Consumer{log: zap.NewNop()}

	t.Run("成功确认", func(t *testing.T) {
		d := new(mockDelivery)
		d.On("Ack", false).Return(nil)
		c.settle(d, nil)
		d.AssertExpectations(t)
	})

	t.Run("无效消息拒绝且不重新入队", func(t *testing.T) {
		d := new(mockDelivery)
		d.On("Reject", false).Return(nil)
		c.settle(d, ErrMalformed)
		d.AssertExpectations(t)
	})

	t.Run("临时错误重新入队", func(t *testing.T) {
		d := new(mockDelivery)
		d.On("Nack", false, true).Return(nil)
		c.settle(d, errors.New("database is down"))
		d.AssertExpectations(t)
	})
}
