package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/storage"
)

// 上下文键
const (
	ContextUser   = "user"
	ContextUserID = "userID"
)

// APIKeyAuthenticator 用 API Key 换取用户
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, code string) (*domain.User, error)
}

// TokenParser 校验访问令牌并返回用户 ID
type TokenParser interface {
	ParseAccessToken(token string) (string, error)
}

// Auth 认证中间件
//
// 支持两种凭证：
// - Authentication: <api key>，浏览器扩展等客户端使用
// - Authorization: Bearer <access token>，网页端登录后使用
type Auth struct {
	apiKeys APIKeyAuthenticator
	tokens  TokenParser
	store   storage.Store
	log     *zap.Logger
}

// NewAuth 创建认证中间件
func NewAuth(apiKeys APIKeyAuthenticator, tokens TokenParser, store storage.Store, log *zap.Logger) *Auth {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auth{apiKeys: apiKeys, tokens: tokens, store: store, log: log}
}

// RequireUser 要求 API Key 或访问令牌
func (a *Auth) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.resolve(c)
		if err != nil {
			status := http.StatusUnauthorized
			msg := "invalid credentials"
			switch {
			case errors.Is(err, errNoCredentials):
				msg = "authentication required"
			case errors.Is(err, domain.ErrUserDisabled):
				msg = "user is disabled"
			case !errors.Is(err, domain.ErrUnauthorized):
				a.log.Error("authentication failed", zap.Error(err), zap.String("ip", c.ClientIP()))
				status = http.StatusInternalServerError
				msg = "internal server error"
			default:
				a.log.Debug("rejected credentials", zap.Error(err), zap.String("ip", c.ClientIP()))
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID)
		c.Next()
	}
}

var errNoCredentials = errors.New("no credentials")

func (a *Auth) resolve(c *gin.Context) (*domain.User, error) {
	if code := strings.TrimSpace(c.GetHeader("Authentication")); code != "" && a.apiKeys != nil {
		return a.apiKeys.Authenticate(c.Request.Context(), code)
	}

	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" && strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		token = c.Query("access_token")
	}
	if token == "" || a.tokens == nil {
		return nil, errNoCredentials
	}
	userID, err := a.tokens.ParseAccessToken(token)
	if err != nil {
		return nil, err
	}
	return a.loadUser(c.Request.Context(), userID)
}

func (a *Auth) loadUser(ctx context.Context, id string) (*domain.User, error) {
	uow, err := a.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	user, err := uow.Users().GetUserByID(id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrUserDisabled
	}
	return user, nil
}

// bearerToken 从 Authorization 头提取令牌
func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// CurrentUser 返回认证中间件写入的用户，未认证时为 nil
func CurrentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}
