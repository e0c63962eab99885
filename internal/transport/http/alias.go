package httptransport

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/middleware"
	"relaymail/backend/internal/service"
	"relaymail/backend/internal/storage"
)

// Handler 处理别名、联系人和活动相关的 HTTP 请求
type Handler struct {
	store      storage.Store
	aliases    *service.AliasService
	contacts   *service.ContactService
	activities *service.ActivityService
	log        *zap.Logger
}

// NewHandler 创建处理器
func NewHandler(store storage.Store, aliases *service.AliasService, contacts *service.ContactService, activities *service.ActivityService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:      store,
		aliases:    aliases,
		contacts:   contacts,
		activities: activities,
		log:        log,
	}
}

type aliasListResponse struct {
	Aliases []AliasItem `json:"aliases"`
}

type aliasListV2Response struct {
	Aliases []AliasItemV2 `json:"aliases"`
}

type createCustomAliasRequest struct {
	AliasPrefix string  `json:"alias_prefix"`
	AliasSuffix string  `json:"alias_suffix"`
	Domain      string  `json:"domain"`
	Note        *string `json:"note"`
}

type createRandomAliasRequest struct {
	Note *string `json:"note"`
}

type updateAliasRequest struct {
	Note *string `json:"note"`
}

type noteResponse struct {
	Note *string `json:"note"`
}

type toggleResponse struct {
	Enabled bool `json:"enabled"`
}

type deletedResponse struct {
	Deleted bool `json:"deleted"`
}

type activityListResponse struct {
	Activities []ActivityItem `json:"activities"`
}

// aliasID 解析路径参数，非法值按不存在处理
func aliasID(c *gin.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("alias_id"), 10, 64)
	if err != nil {
		return 0, domain.ErrAliasNotFound
	}
	return id, nil
}

// searchQuery 读取查询字符串或 JSON 请求体中的 query
func searchQuery(c *gin.Context) string {
	if q := c.Query("query"); q != "" {
		return q
	}
	var body struct {
		Query string `json:"query"`
	}
	if c.Request.ContentLength > 0 {
		_ = c.ShouldBindJSON(&body)
	}
	return body.Query
}

// getAliases godoc
// @Summary 别名列表
// @Description 按创建顺序分页返回别名，可按地址模糊搜索
// @Tags Aliases
// @Produce json
// @Security ApiKeyAuth
// @Param page_id query int true "页码，从 0 开始"
// @Param query query string false "搜索关键字"
// @Success 200 {object} aliasListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/aliases [get]
func (h *Handler) getAliases(c *gin.Context) {
	pageID, err := domain.ParsePageID(c.Query("page_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	query := searchQuery(c)
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		infos, err := h.aliases.List(uow, user, pageID, query)
		if err != nil {
			return nil, err
		}
		items := make([]AliasItem, 0, len(infos))
		for i := range infos {
			items = append(items, toAliasItem(&infos[i]))
		}
		return aliasListResponse{Aliases: items}, nil
	})
}

// getAliasesV2 godoc
// @Summary 别名列表（按活动排序）
// @Description 按最近活动倒序分页返回别名，附带最近一次活动
// @Tags Aliases
// @Produce json
// @Security ApiKeyAuth
// @Param page_id query int true "页码，从 0 开始"
// @Success 200 {object} aliasListV2Response
// @Failure 400 {object} ErrorResponse
// @Router /api/v2/aliases [get]
func (h *Handler) getAliasesV2(c *gin.Context) {
	pageID, err := domain.ParsePageID(c.Query("page_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	query := searchQuery(c)
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		infos, err := h.aliases.ListByActivity(uow, user, pageID, query)
		if err != nil {
			return nil, err
		}
		items := make([]AliasItemV2, 0, len(infos))
		for i := range infos {
			items = append(items, toAliasItemV2(&infos[i]))
		}
		return aliasListV2Response{Aliases: items}, nil
	})
}

// getAlias godoc
// @Summary 别名详情
// @Tags Aliases
// @Produce json
// @Security ApiKeyAuth
// @Param alias_id path int true "别名ID"
// @Success 200 {object} AliasItem
// @Failure 404 {object} ErrorResponse
// @Router /api/aliases/{alias_id} [get]
func (h *Handler) getAlias(c *gin.Context) {
	id, err := aliasID(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		info, err := h.aliases.GetInfo(uow, user, id)
		if err != nil {
			return nil, err
		}
		return toAliasItem(info), nil
	})
}

// createCustomAlias godoc
// @Summary 创建自定义别名
// @Description 地址格式为 prefix.suffix@domain，suffix 缺省时随机选取一个单词
// @Tags Aliases
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body createCustomAliasRequest true "别名参数"
// @Success 201 {object} AliasItem
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/alias/custom/new [post]
func (h *Handler) createCustomAlias(c *gin.Context) {
	var req createCustomAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if strings.TrimSpace(req.AliasPrefix) == "" {
		respondError(c, h.log, domain.ErrPrefixInvalid)
		return
	}
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusCreated, func(uow storage.UnitOfWork) (interface{}, error) {
		alias, err := h.aliases.Create(uow, user, service.CreateAliasInput{
			Prefix: req.AliasPrefix,
			Suffix: req.AliasSuffix,
			Domain: req.Domain,
			Note:   req.Note,
		})
		if err != nil {
			return nil, err
		}
		return toAliasItem(&domain.AliasInfo{Alias: *alias}), nil
	})
}

// createRandomAlias godoc
// @Summary 创建随机别名
// @Tags Aliases
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body createRandomAliasRequest false "备注"
// @Success 201 {object} AliasItem
// @Failure 503 {object} ErrorResponse
// @Router /api/alias/random/new [post]
func (h *Handler) createRandomAlias(c *gin.Context) {
	var req createRandomAliasRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusCreated, func(uow storage.UnitOfWork) (interface{}, error) {
		alias, err := h.aliases.CreateRandom(uow, user, req.Note)
		if err != nil {
			return nil, err
		}
		return toAliasItem(&domain.AliasInfo{Alias: *alias}), nil
	})
}

// updateAlias godoc
// @Summary 更新别名备注
// @Tags Aliases
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param alias_id path int true "别名ID"
// @Param request body updateAliasRequest true "备注"
// @Success 200 {object} noteResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/aliases/{alias_id} [put]
func (h *Handler) updateAlias(c *gin.Context) {
	id, err := aliasID(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	var req updateAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		alias, err := h.aliases.UpdateNote(uow, user, id, req.Note)
		if err != nil {
			return nil, err
		}
		return noteResponse{Note: alias.Note}, nil
	})
}

// toggleAlias godoc
// @Summary 启用或禁用别名
// @Tags Aliases
// @Produce json
// @Security ApiKeyAuth
// @Param alias_id path int true "别名ID"
// @Success 200 {object} toggleResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/aliases/{alias_id}/toggle [post]
func (h *Handler) toggleAlias(c *gin.Context) {
	id, err := aliasID(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		enabled, err := h.aliases.Toggle(uow, user, id)
		if err != nil {
			return nil, err
		}
		return toggleResponse{Enabled: enabled}, nil
	})
}

// deleteAlias godoc
// @Summary 删除别名
// @Description 级联删除联系人和活动记录，地址不会再被分配
// @Tags Aliases
// @Produce json
// @Security ApiKeyAuth
// @Param alias_id path int true "别名ID"
// @Success 200 {object} deletedResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/aliases/{alias_id} [delete]
func (h *Handler) deleteAlias(c *gin.Context) {
	id, err := aliasID(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		if err := h.aliases.Delete(uow, user, id); err != nil {
			return nil, err
		}
		return deletedResponse{Deleted: true}, nil
	})
}

// getAliasActivities godoc
// @Summary 别名活动记录
// @Tags Aliases
// @Produce json
// @Security ApiKeyAuth
// @Param alias_id path int true "别名ID"
// @Param page_id query int true "页码，从 0 开始"
// @Success 200 {object} activityListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/aliases/{alias_id}/activities [get]
func (h *Handler) getAliasActivities(c *gin.Context) {
	id, err := aliasID(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	pageID, err := domain.ParsePageID(c.Query("page_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		alias, err := h.aliases.Get(uow, user, id)
		if err != nil {
			return nil, err
		}
		views, err := h.activities.ListForAlias(uow, alias, pageID)
		if err != nil {
			return nil, err
		}
		items := make([]ActivityItem, 0, len(views))
		for i := range views {
			items = append(items, toActivityItem(&views[i]))
		}
		return activityListResponse{Activities: items}, nil
	})
}
