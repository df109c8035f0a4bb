package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// 制約名。マイグレーションで定義したものと一致させること。
const (
	ConstraintUsersEmail      = "users_email_key"
	ConstraintUsersGoogleID   = "users_google_id_key"
	ConstraintAppsPackageName = "apps_package_name_key"

	// 外部キーはPostgreSQLの既定名（<table>_<column>_fkey）
	ConstraintAppsCreatedBy               = "apps_created_by_fkey"
	ConstraintMarketingCampaignsCreatedBy = "marketing_campaigns_created_by_fkey"
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// UniqueViolationError は一意制約違反を表す。
type UniqueViolationError struct {
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique violation on %s: %v", e.Constraint, e.Err)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

// ForeignKeyViolationError は外部キー制約違反を表す。
type ForeignKeyViolationError struct {
	Constraint string
	Err        error
}

func (e *ForeignKeyViolationError) Error() string {
	return fmt.Sprintf("foreign key violation on %s: %v", e.Constraint, e.Err)
}

func (e *ForeignKeyViolationError) Unwrap() error { return e.Err }

// IsUniqueViolation はerrが指定制約の一意制約違反かどうかを返す。
// constraintが空の場合は制約名を問わない。
func IsUniqueViolation(err error, constraint string) bool {
	var uv *UniqueViolationError
	if !errors.As(err, &uv) {
		return false
	}
	return constraint == "" || uv.Constraint == constraint
}

// IsForeignKeyViolation はerrが指定制約の外部キー制約違反かどうかを返す。
// constraintが空の場合は制約名を問わない。
func IsForeignKeyViolation(err error, constraint string) bool {
	var fk *ForeignKeyViolationError
	if !errors.As(err, &fk) {
		return false
	}
	return constraint == "" || fk.Constraint == constraint
}

// translatePQError はlib/pqのエラーをリポジトリのエラー型に変換する。
// 該当しない場合はerrをそのまま返す。
func translatePQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pqUniqueViolation:
		return &UniqueViolationError{Constraint: pqErr.Constraint, Err: err}
	case pqForeignKeyViolation:
		return &ForeignKeyViolationError{Constraint: pqErr.Constraint, Err: err}
	}
	return err
}
