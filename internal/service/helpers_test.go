package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"relaymail/backend/internal/config"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/storage"
	"relaymail/backend/internal/storage/memory"
)

type testEnv struct {
	store      *memory.Store
	aliases    *AliasService
	contacts   *ContactService
	activities *ActivityService
	ingest     *IngestService
	user       *domain.User
}

func testAliasConfig() config.AliasConfig {
	return config.AliasConfig{
		Domains:           []string{"relay.mail", "other.mail"},
		ReverseDomain:     "reply.relay.mail",
		PageLimit:         3,
		MaxRandomAttempts: 5,
	}
}

func newTestEnv(t *testing.T, notifier ActivityNotifier) *testEnv {
	t.Helper()
	cfg := testAliasConfig()
	e := &testEnv{
		store:      memory.NewStore(),
		aliases:    NewAliasService(cfg, nil, nil),
		contacts:   NewContactService(cfg, nil, nil),
		activities: NewActivityService(cfg.PageLimit, notifier, nil, nil),
		user:       &domain.User{ID: "u1", Email: "john@example.com", IsActive: true},
	}
	e.ingest = NewIngestService(e.aliases, e.contacts, e.activities, nil)
	e.tx(t, func(uow storage.UnitOfWork) {
		require.NoError(t, uow.Users().CreateUser(e.user))
	})
	return e
}

// tx 在一个工作单元中执行 fn 并提交
func (e *testEnv) tx(t *testing.T, fn func(uow storage.UnitOfWork)) {
	t.Helper()
	uow, err := e.store.Begin(context.Background())
	require.NoError(t, err)
	defer uow.Rollback()
	fn(uow)
	require.NoError(t, uow.Commit())
}

// view 在一个只读工作单元中执行 fn
func (e *testEnv) view(t *testing.T, fn func(uow storage.UnitOfWork)) {
	t.Helper()
	uow, err := e.store.Begin(context.Background())
	require.NoError(t, err)
	defer uow.Rollback()
	fn(uow)
}

func (e *testEnv) newAlias(t *testing.T, prefix string) *domain.Alias {
	t.Helper()
	var a *domain.Alias
	e.tx(t, func(uow storage.UnitOfWork) {
		var err error
		a, err = e.aliases.Create(uow, e.user, CreateAliasInput{Prefix: prefix, Suffix: "x"})
		require.NoError(t, err)
	})
	return a
}

// sequence 依次返回给定的值，用完后重复最后一个
func sequence(values ...string) func() string {
	i := 0
	return func() string {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyActivity(userID string, aliasID uint64, view domain.ActivityView) {
	m.Called(userID, aliasID, view)
}

// record 为别名创建（或复用）联系人并记录一次活动
func (e *testEnv) record(t *testing.T, a *domain.Alias, raw string, kind domain.ActivityKind) *domain.Contact {
	t.Helper()
	var c *domain.Contact
	e.tx(t, func(uow storage.UnitOfWork) {
		var err error
		c, err = e.contacts.GetOrCreate(uow, a, raw)
		require.NoError(t, err)
		_, err = e.activities.Record(uow, a, c, kind)
		require.NoError(t, err)
	})
	return c
}
