package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relaymail/backend/internal/auth/jwt"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/storage"
)

// AliasCreator 注册时为新用户生成默认别名
type AliasCreator interface {
	CreateRandom(uow storage.UnitOfWork, user *domain.User, note *string) (*domain.Alias, error)
}

// Service 认证服务
type Service struct {
	tokens  *jwt.Manager
	aliases AliasCreator
	log     *zap.Logger
	now     func() time.Time
}

// NewService 创建认证服务
func NewService(tokens *jwt.Manager, aliases AliasCreator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		tokens:  tokens,
		aliases: aliases,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterInput 注册输入
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LoginInput 登录输入
type LoginInput struct {
	Email    string
	Password string
}

// Result 注册或登录的结果
type Result struct {
	User         *domain.User
	DefaultAlias *domain.Alias // 仅注册时返回
	Tokens       *jwt.TokenPair
}

// Register 创建用户并在同一工作单元内生成默认别名
func (s *Service) Register(uow storage.UnitOfWork, in RegisterInput) (*Result, error) {
	email, _, err := domain.ParseAddress(in.Email)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := uow.Users().GetUserByEmail(email); err == nil {
		return nil, domain.ErrUserExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.Internal("lookup user", err)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, domain.Internal("hash password", err)
	}

	now := s.now()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := uow.Users().CreateUser(user); err != nil {
		return nil, err
	}

	alias, err := s.aliases.CreateRandom(uow, user, nil)
	if err != nil {
		return nil, fmt.Errorf("create default alias: %w", err)
	}

	tokens, err := s.tokens.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		return nil, domain.Internal("generate tokens", err)
	}

	s.log.Info("user registered", zap.String("user_id", user.ID), zap.String("default_alias", alias.Email))
	return &Result{User: user, DefaultAlias: alias, Tokens: tokens}, nil
}

// Login 校验密码并签发令牌
func (s *Service) Login(uow storage.UnitOfWork, in LoginInput) (*Result, error) {
	user, err := uow.Users().GetUserByEmail(strings.ToLower(strings.TrimSpace(in.Email)))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrBadCredentials
		}
		return nil, domain.Internal("lookup user", err)
	}
	if !CheckPassword(in.Password, user.PasswordHash) {
		return nil, domain.ErrBadCredentials
	}
	if !user.IsActive {
		return nil, domain.ErrUserDisabled
	}

	now := s.now()
	if err := uow.Users().UpdateLastLogin(user.ID, now); err != nil {
		return nil, domain.Internal("update last login", err)
	}
	user.LastLoginAt = &now

	tokens, err := s.tokens.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		return nil, domain.Internal("generate tokens", err)
	}
	return &Result{User: user, Tokens: tokens}, nil
}

// Refresh 使用刷新令牌换取新的令牌对
func (s *Service) Refresh(refreshToken string) (*jwt.TokenPair, error) {
	pair, err := s.tokens.Refresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	return pair, nil
}

// ParseAccessToken 校验访问令牌并返回用户 ID
func (s *Service) ParseAccessToken(token string) (string, error) {
	claims, err := s.tokens.ValidateToken(token, jwt.TypeAccess)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	return claims.UserID, nil
}
