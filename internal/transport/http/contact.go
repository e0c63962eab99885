package httptransport

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/middleware"
	"relaymail/backend/internal/storage"
)

type contactListResponse struct {
	Contacts []ContactItem `json:"contacts"`
}

type createContactRequest struct {
	Contact string `json:"contact" binding:"required"`
}

// getAliasContacts godoc
// @Summary 别名联系人列表
// @Tags Contacts
// @Produce json
// @Security ApiKeyAuth
// @Param alias_id path int true "别名ID"
// @Param page_id query int true "页码，从 0 开始"
// @Success 200 {object} contactListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/aliases/{alias_id}/contacts [get]
func (h *Handler) getAliasContacts(c *gin.Context) {
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
		infos, err := h.contacts.ListForAlias(uow, alias, pageID)
		if err != nil {
			return nil, err
		}
		items := make([]ContactItem, 0, len(infos))
		for i := range infos {
			items = append(items, toContactItem(&infos[i]))
		}
		return contactListResponse{Contacts: items}, nil
	})
}

// createContact godoc
// @Summary 为别名添加联系人
// @Description contact 可以是裸地址或 "Name <addr>"，返回的 reverse_alias 用于给联系人发信
// @Tags Contacts
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param alias_id path int true "别名ID"
// @Param request body createContactRequest true "联系人地址"
// @Success 201 {object} ContactItem
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/aliases/{alias_id}/contacts [post]
func (h *Handler) createContact(c *gin.Context) {
	id, err := aliasID(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	var req createContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusCreated, func(uow storage.UnitOfWork) (interface{}, error) {
		alias, err := h.aliases.Get(uow, user, id)
		if err != nil {
			return nil, err
		}
		contact, err := h.contacts.Create(uow, alias, req.Contact, nil)
		if err != nil {
			return nil, err
		}
		return toContactItem(&domain.ContactInfo{Contact: *contact}), nil
	})
}

// deleteContact godoc
// @Summary 删除联系人
// @Tags Contacts
// @Produce json
// @Security ApiKeyAuth
// @Param contact_id path int true "联系人ID"
// @Success 200 {object} deletedResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/contacts/{contact_id} [delete]
func (h *Handler) deleteContact(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("contact_id"), 10, 64)
	if err != nil {
		respondError(c, h.log, domain.ErrContactNotFound)
		return
	}
	user := middleware.CurrentUser(c)

	withTx(c, h.store, h.log, http.StatusOK, func(uow storage.UnitOfWork) (interface{}, error) {
		if err := h.contacts.Delete(uow, user, id); err != nil {
			return nil, err
		}
		return deletedResponse{Deleted: true}, nil
	})
}
