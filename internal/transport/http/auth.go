package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaymail/backend/internal/auth"
	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/middleware"
	"relaymail/backend/internal/monitoring"
	"relaymail/backend/internal/storage"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	store       storage.Store
	authService *auth.Service       // 认证业务服务
	metrics     *monitoring.Metrics // 可以为 nil
	log         *zap.Logger         // 结构化日志记录器
}

// NewAuthHandler 创建新的认证处理器实例
//
// 参数:
//   - store: 存储，每个请求一个工作单元
//   - authService: 认证业务服务
//   - metrics: 监控指标
//   - log: 日志记录器
//
// 返回值:
//   - *AuthHandler: 认证处理器实例
func NewAuthHandler(store storage.Store, authService *auth.Service, metrics *monitoring.Metrics, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		store:       store,
		authService: authService,
		metrics:     metrics,
		log:         log,
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type authResponse struct {
	User         userResponse `json:"user"`
	DefaultAlias *AliasItem   `json:"default_alias,omitempty"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
}

type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func toAuthResponse(res *auth.Result) authResponse {
	resp := authResponse{
		User:         toUserResponse(res.User),
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		TokenType:    res.Tokens.TokenType,
		ExpiresIn:    res.Tokens.ExpiresIn,
	}
	if res.DefaultAlias != nil {
		item := toAliasItem(&domain.AliasInfo{Alias: *res.DefaultAlias})
		resp.DefaultAlias = &item
	}
	return resp
}

// Register 处理用户注册请求
// @Summary 用户注册
// @Description 创建新用户账户并生成一个默认别名，返回用户信息和认证令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body registerRequest true "注册信息"
// @Success 201 {object} authResponse "注册成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 409 {object} ErrorResponse "邮箱已存在"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /api/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	withTx(c, h.store, h.log, http.StatusCreated, func(uow storage.UnitOfWork) (interface{}, error) {
		res, err := h.authService.Register(uow, auth.RegisterInput{
			Email:    req.Email,
			Password: req.Password,
			Name:     req.Name,
		})
		if err != nil {
			return nil, err
		}
		uow.AfterCommit(h.metrics.RecordUserRegistered)
		return toAuthResponse(res), nil
	})
}

// Login 处理用户登录请求
// @Summary 用户登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录信息"
// @Success 200 {object} authResponse "登录成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 401 {object} ErrorResponse "邮箱或密码错误"
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		res, err := h.authService.Login(uow, auth.LoginInput{Email: req.Email, Password: req.Password})
		if err != nil {
			return nil, err
		}
		uow.AfterCommit(func() {
			h.log.Info("user logged in", zap.String("user_id", res.User.ID), zap.String("ip", c.ClientIP()))
		})
		return toAuthResponse(res), nil
	})
}

// Refresh 刷新访问令牌
// @Summary 刷新令牌
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body refreshRequest true "刷新令牌"
// @Success 200 {object} jwt.TokenPair
// @Failure 401 {object} ErrorResponse "令牌无效或已过期"
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	pair, err := h.authService.Refresh(req.RefreshToken)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, pair)
}

// Me 返回当前用户
// @Summary 当前用户信息
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} userResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		Unauthorized(c, MsgAuthRequired)
		return
	}
	Success(c, toUserResponse(user))
}
