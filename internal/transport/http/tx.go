package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/storage"
)

// withTx 在一个工作单元内执行 fn，提交成功后才写出响应。
// fn 返回错误时整个工作单元回滚。
func withTx(c *gin.Context, store storage.Store, log *zap.Logger, status int, fn func(uow storage.UnitOfWork) (interface{}, error)) {
	uow, err := store.Begin(c.Request.Context())
	if err != nil {
		respondError(c, log, domain.Internal("begin unit of work", err))
		return
	}
	defer uow.Rollback()

	body, err := fn(uow)
	if err != nil {
		respondError(c, log, err)
		return
	}
	if err := uow.Commit(); err != nil {
		respondError(c, log, domain.Internal("commit unit of work", err))
		return
	}
	c.JSON(status, body)
}
