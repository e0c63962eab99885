package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"relaymail/backend/internal/domain"
)

const (
	pgUniqueViolation    = "23505"
	mysqlDuplicateEntry  = 1062
	replyEmailConstraint = "reply_email"
)

// isDuplicateKey 判断是否为唯一约束冲突，返回冲突的约束名（驱动未提供时为空）。
func isDuplicateKey(err error) (bool, string) {
	if err == nil {
		return false, ""
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return true, pqErr.Constraint
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true, pgErr.ConstraintName
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true, myErr.Message
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true, ""
	}
	return false, ""
}

// mapError 将驱动错误转换为领域错误。
// notFound 用于 gorm.ErrRecordNotFound，conflict 用于唯一约束冲突。
func mapError(op string, err error, notFound, conflict error) error {
	if err == nil {
		return nil
	}
	if notFound != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	if dup, _ := isDuplicateKey(err); dup && conflict != nil {
		return conflict
	}
	return domain.Internal(op, err)
}

// contactConflict 区分联系人的两个唯一约束。
func contactConflict(err error) error {
	_, constraint := isDuplicateKey(err)
	if strings.Contains(strings.ToLower(constraint), replyEmailConstraint) {
		return domain.ErrReplyEmailTaken
	}
	return domain.ErrContactExists
}

// escapeLike 转义 LIKE 通配符
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
