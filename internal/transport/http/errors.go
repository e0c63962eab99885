package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaymail/backend/internal/domain"
)

// 错误消息映射表（业务错误 -> 返回给客户端的消息）
var errorMessages = []struct {
	err error
	msg string
}{
	{domain.ErrPageIDRequired, "page_id must be provided in request query"},
	{domain.ErrPageIDInvalid, "page_id must be a non-negative integer"},
	{domain.ErrPrefixInvalid, "alias prefix invalid"},
	{domain.ErrDomainNotAllowed, "alias domain not allowed"},
	{domain.ErrInvalidEmail, "invalid email format"},
	{domain.ErrInvalidKind, "invalid activity kind"},
	{domain.ErrPasswordTooShort, "password too short (min 8 chars)"},
	{domain.ErrPasswordTooLong, "password too long (max 128 chars)"},
	{domain.ErrAliasExists, "alias already exists"},
	{domain.ErrAliasNotFound, "alias not found"},
	{domain.ErrAliasUnavailable, "cannot generate a new alias, please retry later"},
	{domain.ErrContactExists, "contact already added"},
	{domain.ErrContactNotFound, "contact not found"},
	{domain.ErrReplyUnavailable, "cannot generate a reverse alias, please retry later"},
	{domain.ErrUserExists, "email already registered"},
	{domain.ErrUserNotFound, "user not found"},
	{domain.ErrAPIKeyNotFound, "api key not found"},
	{domain.ErrBadCredentials, "invalid email or password"},
	{domain.ErrUserDisabled, "user is disabled"},
	{domain.ErrInvalidToken, "invalid token"},
	{domain.ErrBadSignature, "invalid signature"},
	{domain.ErrNoSubscription, "No such subscription"},
}

// 通用错误消息
const (
	MsgInvalidRequest = "invalid request body"
	MsgAuthRequired   = "authentication required"
	MsgInternalError  = "internal server error"
)

// GetErrorMessage 获取错误对应的客户端消息，未登记的错误返回错误文本
func GetErrorMessage(err error) string {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}

// statusFor 按错误类别选择 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// respondError 写出错误响应，内部错误只记录日志不返回原文
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.Error(err),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
		)
		Error(c, status, MsgInternalError)
		return
	}
	Error(c, status, GetErrorMessage(err))
}
