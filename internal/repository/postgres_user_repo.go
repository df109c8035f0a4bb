package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/pubadmin/internal/model"
)

const userColumns = `id, email, full_name, avatar_url, google_id, role, is_active, is_verified, created_at, updated_at, last_login`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// *sqlx.DBと*sqlx.Txのどちらでも動作する。
type PostgresUserRepo struct {
	db sqlx.ExtContext
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db sqlx.ExtContext) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	user := &model.User{}
	err := sqlx.GetContext(ctx, r.db, user, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := r.findOne(ctx, "id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, "email = $1", email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByGoogleID はGoogleのsubでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	user, err := r.findOne(ctx, "google_id = $1", googleID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google ID: %w", err)
	}
	return user, nil
}

// List はID昇順でユーザー一覧を返す。
func (r *PostgresUserRepo) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	users := []*model.User{}
	err := sqlx.SelectContext(ctx, r.db, &users,
		`SELECT `+userColumns+` FROM users ORDER BY id OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

const insertUserQuery = `INSERT INTO users (email, full_name, avatar_url, google_id, role, is_active, is_verified, last_login)
	VALUES (:email, :full_name, :avatar_url, :google_id, :role, :is_active, :is_verified, :last_login)`

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	inserted, err := r.insert(ctx, insertUserQuery+` RETURNING id, created_at`, user)
	if err != nil {
		return err
	}
	if !inserted {
		return errors.New("failed to insert user: no row returned")
	}
	return nil
}

// CreateIfAbsent はemailの衝突時に何もしないINSERTでユーザーを作成する。
// 衝突相手のトランザクションがコミットされるまで待つため、戻り値がfalseなら
// 同じトランザクション内の後続のFindByEmailでそのレコードを読める。
func (r *PostgresUserRepo) CreateIfAbsent(ctx context.Context, user *model.User) (bool, error) {
	return r.insert(ctx, insertUserQuery+` ON CONFLICT ON CONSTRAINT `+ConstraintUsersEmail+` DO NOTHING RETURNING id, created_at`, user)
}

func (r *PostgresUserRepo) insert(ctx context.Context, query string, user *model.User) (bool, error) {
	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, user)
	if err != nil {
		return false, fmt.Errorf("failed to insert user: %w", translatePQError(err))
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return false, fmt.Errorf("failed to insert user: %w", translatePQError(err))
		}
		return false, nil
	}
	if err := rows.Scan(&user.ID, &user.CreatedAt); err != nil {
		return false, fmt.Errorf("failed to scan inserted user: %w", err)
	}
	return true, nil
}

// Update はユーザーの可変項目を上書き保存する。updated_atはDB側で設定する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	var updatedAt time.Time
	err := r.db.QueryRowxContext(ctx,
		`UPDATE users
		 SET email = $2, full_name = $3, avatar_url = $4, google_id = $5, role = $6,
		     is_active = $7, is_verified = $8, last_login = $9, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		user.ID, user.Email, user.FullName, user.AvatarURL, user.GoogleID, user.Role,
		user.IsActive, user.IsVerified, user.LastLogin,
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user not found: %d", user.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", translatePQError(err))
	}
	user.UpdatedAt = &updatedAt
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", translatePQError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
