package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaymail/backend/internal/auth/jwt"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/storage"
	"relaymail/backend/internal/storage/memory"
)

type stubAliases struct {
	err error
}

func (s stubAliases) CreateRandom(uow storage.UnitOfWork, user *domain.User, note *string) (*domain.Alias, error) {
	if s.err != nil {
		return nil, s.err
	}
	a := &domain.Alias{UserID: user.ID, Email: "first.word123@relay.mail", Enabled: true, Note: note}
	return a, uow.Aliases().CreateAlias(a)
}

func newTestService(aliases AliasCreator) *Service {
	tokens := jwt.NewManager(strings.Repeat("a", 32), "test", 15*time.Minute, 7*24*time.Hour)
	return NewService(tokens, aliases, nil)
}

func register(t *testing.T, store *memory.Store, svc *Service, in RegisterInput) (*Result, error) {
	t.Helper()
	uow, err := store.Begin(context.Background())
	require.NoError(t, err)
	defer uow.Rollback()
	res, err := svc.Register(uow, in)
	if err != nil {
		return nil, err
	}
	require.NoError(t, uow.Commit())
	return res, nil
}

func TestService_Register(t *testing.T) {
	t.Run("注册成功并创建默认别名", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestService(stubAliases{})

		res, err := register(t, store, svc, RegisterInput{Email: "John <John@Example.com>", Password: "Password123!", Name: " John "})
		require.NoError(t, err)
		assert.NotEmpty(t, res.User.ID)
		assert.Equal(t, "john@example.com", res.User.Email)
		assert.Equal(t, "John", res.User.Name)
		assert.True(t, res.User.IsActive)
		require.NotNil(t, res.DefaultAlias)
		assert.Equal(t, res.User.ID, res.DefaultAlias.UserID)
		assert.NotEmpty(t, res.Tokens.AccessToken)
		assert.NotEmpty(t, res.Tokens.RefreshToken)

		uow, err := store.Begin(context.Background())
		require.NoError(t, err)
		defer uow.Rollback()
		n, err := uow.Aliases().CountAliases(res.User.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("重复邮箱", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestService(stubAliases{})
		_, err := register(t, store, svc, RegisterInput{Email: "john@example.com", Password: "Password123!"})
		require.NoError(t, err)

		_, err = register(t, store, svc, RegisterInput{Email: "JOHN@example.com", Password: "Password123!"})
		assert.ErrorIs(t, err, domain.ErrUserExists)
	})

	t.Run("非法输入", func(t *testing.T) {
		svc := newTestService(stubAliases{})
		store := memory.NewStore()

		_, err := register(t, store, svc, RegisterInput{Email: "not-an-email", Password: "Password123!"})
		assert.ErrorIs(t, err, domain.ErrInvalidEmail)

		_, err = register(t, store, svc, RegisterInput{Email: "john@example.com", Password: "short"})
		assert.ErrorIs(t, err, domain.ErrPasswordTooShort)
	})

	t.Run("默认别名失败时整体回滚", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestService(stubAliases{err: domain.ErrAliasUnavailable})

		_, err := register(t, store, svc, RegisterInput{Email: "john@example.com", Password: "Password123!"})
		assert.ErrorIs(t, err, domain.ErrResourceExhausted)

		uow, err := store.Begin(context.Background())
		require.NoError(t, err)
		defer uow.Rollback()
		_, err = uow.Users().GetUserByEmail("john@example.com")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})
}

func TestService_Login(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(stubAliases{})
	reg, err := register(t, store, svc, RegisterInput{Email: "john@example.com", Password: "Password123!"})
	require.NoError(t, err)

	login := func(in LoginInput) (*Result, error) {
		uow, err := store.Begin(context.Background())
		require.NoError(t, err)
		defer uow.Rollback()
		res, err := svc.Login(uow, in)
		if err != nil {
			return nil, err
		}
		return res, uow.Commit()
	}

	t.Run("登录成功并记录时间", func(t *testing.T) {
		res, err := login(LoginInput{Email: " John@Example.com ", Password: "Password123!"})
		require.NoError(t, err)
		assert.Equal(t, reg.User.ID, res.User.ID)
		require.NotNil(t, res.User.LastLoginAt)

		userID, err := svc.ParseAccessToken(res.Tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, reg.User.ID, userID)
	})

	t.Run("密码错误与用户不存在返回相同错误", func(t *testing.T) {
		_, err := login(LoginInput{Email: "john@example.com", Password: "wrong-password"})
		assert.ErrorIs(t, err, domain.ErrBadCredentials)
		_, err = login(LoginInput{Email: "nobody@example.com", Password: "Password123!"})
		assert.ErrorIs(t, err, domain.ErrBadCredentials)
	})

	t.Run("禁用用户无法登录", func(t *testing.T) {
		uow, err := store.Begin(context.Background())
		require.NoError(t, err)
		hash, err := HashPassword("Password123!")
		require.NoError(t, err)
		require.NoError(t, uow.Users().CreateUser(&domain.User{ID: "disabled", Email: "off@example.com", PasswordHash: hash}))
		require.NoError(t, uow.Commit())

		_, err = login(LoginInput{Email: "off@example.com", Password: "Password123!"})
		assert.ErrorIs(t, err, domain.ErrUserDisabled)
	})
}

func TestService_Tokens(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(stubAliases{})
	reg, err := register(t, store, svc, RegisterInput{Email: "john@example.com", Password: "Password123!"})
	require.NoError(t, err)

	t.Run("刷新令牌换取新令牌", func(t *testing.T) {
		pair, err := svc.Refresh(reg.Tokens.RefreshToken)
		require.NoError(t, err)
		userID, err := svc.ParseAccessToken(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, reg.User.ID, userID)
	})

	t.Run("刷新令牌不能用于访问", func(t *testing.T) {
		_, err := svc.ParseAccessToken(reg.Tokens.RefreshToken)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
		assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	})

	t.Run("访问令牌不能用于刷新", func(t *testing.T) {
		_, err := svc.Refresh(reg.Tokens.AccessToken)
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	})
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("Password123!")
	require.NoError(t, err)
	assert.True(t, CheckPassword("Password123!", hash))
	assert.False(t, CheckPassword("password123!", hash))
}
