package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/middleware"
	"relaymail/backend/internal/service"
	"relaymail/backend/internal/storage"
)

// APIKeyHandler API Key管理处理器
type APIKeyHandler struct {
	store         storage.Store
	apiKeyService *service.APIKeyService
	log           *zap.Logger
}

// NewAPIKeyHandler 创建API Key处理器
func NewAPIKeyHandler(store storage.Store, apiKeyService *service.APIKeyService, log *zap.Logger) *APIKeyHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyHandler{
		store:         store,
		apiKeyService: apiKeyService,
		log:           log,
	}
}

// createAPIKeyRequest 创建API Key请求
type createAPIKeyRequest struct {
	Name string `json:"name" binding:"required"` // API Key名称/描述
}

// apiKeyResponse API Key响应，code 只在创建时返回
type apiKeyResponse struct {
	ID         string     `json:"id"`
	Code       string     `json:"code,omitempty"`
	CodeHint   string     `json:"code_hint"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

type apiKeyListResponse struct {
	APIKeys []apiKeyResponse `json:"api_keys"`
}

func toAPIKeyResponse(k *domain.APIKey, withCode bool) apiKeyResponse {
	resp := apiKeyResponse{
		ID:         k.ID,
		CodeHint:   k.CodeHint(),
		Name:       k.Name,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
	}
	if withCode {
		resp.Code = k.Code
	}
	return resp
}

// CreateAPIKey godoc
// @Summary 创建API Key
// @Description 为当前用户创建一个新的API Key，客户端通过 Authentication 头携带
// @Tags APIKeys
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createAPIKeyRequest true "API Key参数"
// @Success 201 {object} apiKeyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/api_keys [post]
func (h *APIKeyHandler) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusCreated, func(uow storage.UnitOfWork) (interface{}, error) {
		key, err := h.apiKeyService.Create(uow, user.ID, req.Name)
		if err != nil {
			return nil, err
		}
		return toAPIKeyResponse(key, true), nil
	})
}

// ListAPIKeys godoc
// @Summary 列出API Keys
// @Tags APIKeys
// @Produce json
// @Security BearerAuth
// @Success 200 {object} apiKeyListResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/api_keys [get]
func (h *APIKeyHandler) ListAPIKeys(c *gin.Context) {
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		keys, err := h.apiKeyService.List(uow, user.ID)
		if err != nil {
			return nil, err
		}
		items := make([]apiKeyResponse, 0, len(keys))
		for i := range keys {
			items = append(items, toAPIKeyResponse(&keys[i], false))
		}
		return apiKeyListResponse{APIKeys: items}, nil
	})
}

// DeleteAPIKey godoc
// @Summary 删除API Key
// @Tags APIKeys
// @Produce json
// @Security BearerAuth
// @Param id path string true "API Key ID"
// @Success 200 {object} deletedResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/api_keys/{id} [delete]
func (h *APIKeyHandler) DeleteAPIKey(c *gin.Context) {
	user := middleware.CurrentUser(c)
	id := c.Param("id")

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		if err := h.apiKeyService.Delete(uow, user.ID, id); err != nil {
			return nil, err
		}
		return deletedResponse{Deleted: true}, nil
	})
}
