package domain

import (
	"errors"
	"fmt"
)

// 错误分类。具体业务错误通过 %w 包装其中之一，调用方使用 errors.Is 判断类别。
var (
	ErrBadRequest        = errors.New("bad request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrInternal          = errors.New("internal error")
)

// 业务错误
var (
	ErrUserNotFound      = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrUserExists        = fmt.Errorf("%w: user already exists", ErrConflict)
	ErrAPIKeyNotFound    = fmt.Errorf("%w: api key not found", ErrNotFound)
	ErrAliasNotFound     = fmt.Errorf("%w: alias not found", ErrNotFound)
	ErrAliasExists       = fmt.Errorf("%w: alias already exists", ErrConflict)
	ErrAliasUnavailable  = fmt.Errorf("%w: no free alias address found", ErrResourceExhausted)
	ErrContactNotFound   = fmt.Errorf("%w: contact not found", ErrNotFound)
	ErrContactExists     = fmt.Errorf("%w: contact already exists", ErrConflict)
	ErrReplyEmailTaken   = fmt.Errorf("%w: reverse alias already exists", ErrConflict)
	ErrReplyUnavailable  = fmt.Errorf("%w: no free reverse alias found", ErrResourceExhausted)
	ErrSubscriptionFound = fmt.Errorf("%w: subscription already exists", ErrConflict)
	ErrNoSubscription    = fmt.Errorf("%w: subscription not found", ErrNotFound)
	ErrPageIDRequired    = fmt.Errorf("%w: page_id must be provided in request query", ErrBadRequest)
	ErrPageIDInvalid     = fmt.Errorf("%w: page_id must be a non-negative integer", ErrBadRequest)
	ErrPrefixInvalid     = fmt.Errorf("%w: alias prefix invalid", ErrBadRequest)
	ErrDomainNotAllowed  = fmt.Errorf("%w: alias domain not allowed", ErrBadRequest)
	ErrInvalidEmail      = fmt.Errorf("%w: invalid email format", ErrBadRequest)
	ErrInvalidKind       = fmt.Errorf("%w: invalid activity kind", ErrBadRequest)
	ErrPasswordTooShort  = fmt.Errorf("%w: password too short (min 8 chars)", ErrBadRequest)
	ErrPasswordTooLong   = fmt.Errorf("%w: password too long (max 128 chars)", ErrBadRequest)
	ErrBadCredentials    = fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	ErrUserDisabled      = fmt.Errorf("%w: user is disabled", ErrUnauthorized)
	ErrInvalidToken      = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrBadSignature      = fmt.Errorf("%w: invalid webhook signature", ErrUnauthorized)
	ErrUnknownRecipient  = fmt.Errorf("%w: recipient is neither an alias nor a reverse alias", ErrNotFound)
)

var kinds = []error{ErrBadRequest, ErrUnauthorized, ErrNotFound, ErrConflict, ErrResourceExhausted, ErrInternal}

// Internal 把存储层等非预期错误包装为内部错误，保留原始错误链。
// 已经归类的错误原样返回。
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}
