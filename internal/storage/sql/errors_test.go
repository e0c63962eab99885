package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"relaymail/backend/internal/domain"
)

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		dup        bool
		constraint string
	}{
		{"lib/pq 唯一约束", &pq.Error{Code: "23505", Constraint: "idx_aliases_email"}, true, "idx_aliases_email"},
		{"lib/pq 其它错误", &pq.Error{Code: "23503"}, false, ""},
		{"pgx 唯一约束", &pgconn.PgError{Code: "23505", ConstraintName: "idx_contacts_reply_email"}, true, "idx_contacts_reply_email"},
		{"mysql 重复键", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'contacts.idx_contact_alias_website'"}, true, "Duplicate entry 'x' for key 'contacts.idx_contact_alias_website'"},
		{"mysql 其它错误", &mysql.MySQLError{Number: 1213}, false, ""},
		{"gorm 翻译后的错误", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true, ""},
		{"普通错误", errors.New("connection reset"), false, ""},
		{"nil", nil, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dup, constraint := isDuplicateKey(tt.err)
			assert.Equal(t, tt.dup, dup)
			assert.Equal(t, tt.constraint, constraint)
		})
	}
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError("op", nil, domain.ErrAliasNotFound, domain.ErrAliasExists))
	assert.ErrorIs(t, mapError("op", gorm.ErrRecordNotFound, domain.ErrAliasNotFound, nil), domain.ErrAliasNotFound)
	assert.ErrorIs(t, mapError("op", &pq.Error{Code: "23505"}, nil, domain.ErrAliasExists), domain.ErrAliasExists)

	err := mapError("op", errors.New("boom"), domain.ErrAliasNotFound, domain.ErrAliasExists)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestContactConflict(t *testing.T) {
	assert.ErrorIs(t, contactConflict(&pgconn.PgError{Code: "23505", ConstraintName: "idx_contacts_reply_email"}), domain.ErrReplyEmailTaken)
	assert.ErrorIs(t, contactConflict(&pq.Error{Code: "23505", Constraint: "idx_contact_alias_website"}), domain.ErrContactExists)
	assert.ErrorIs(t, contactConflict(gorm.ErrDuplicatedKey), domain.ErrContactExists)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `word\_word`, escapeLike("word_word"))
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
}

func TestDriverName(t *testing.T) {
	for _, typ := range []string{"postgres", "pgx", "mysql"} {
		name, err := driverName(typ)
		assert.NoError(t, err)
		assert.Equal(t, typ, name)
	}
	_, err := driverName("sqlite")
	assert.Error(t, err)
}
