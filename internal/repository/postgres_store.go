package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresStore はPostgreSQLを使用したStore実装。
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Users はトランザクション外で使用するユーザーリポジトリを返す。
func (s *PostgresStore) Users() UserRepository {
	return NewPostgresUserRepo(s.db)
}

// Apps はトランザクション外で使用するアプリリポジトリを返す。
func (s *PostgresStore) Apps() AppRepository {
	return NewPostgresAppRepo(s.db)
}

// WithinTx はfnを1つのトランザクション内で実行する。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, txRepositories{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translatePQError(err))
	}
	return nil
}

// txRepositories はトランザクションに束縛されたリポジトリの組。
type txRepositories struct {
	tx *sqlx.Tx
}

func (r txRepositories) Users() UserRepository { return NewPostgresUserRepo(r.tx) }
func (r txRepositories) Apps() AppRepository   { return NewPostgresAppRepo(r.tx) }

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
