package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hitoshi/pubadmin/internal/model"
)

const appColumns = `id, name, package_name, description, app_type, platform, version, build_number,
	status, is_published, icon_url, screenshots, category, tags, target_audience,
	created_by, assigned_pm, assigned_marketing, created_at, updated_at, published_at`

// PostgresAppRepo はPostgreSQLを使用したアプリリポジトリ。
type PostgresAppRepo struct {
	db sqlx.ExtContext
}

// NewPostgresAppRepo はPostgresAppRepoを生成する。
func NewPostgresAppRepo(db sqlx.ExtContext) *PostgresAppRepo {
	return &PostgresAppRepo{db: db}
}

func (r *PostgresAppRepo) findOne(ctx context.Context, where string, arg any) (*model.App, error) {
	app := &model.App{}
	err := sqlx.GetContext(ctx, r.db, app, `SELECT `+appColumns+` FROM apps WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return app, nil
}

// FindByID は指定IDのアプリを取得する。見つからない場合はnilを返す。
func (r *PostgresAppRepo) FindByID(ctx context.Context, id int64) (*model.App, error) {
	app, err := r.findOne(ctx, "id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to find app by ID: %w", err)
	}
	return app, nil
}

// FindByPackageName はパッケージ名でアプリを検索する。見つからない場合はnilを返す。
func (r *PostgresAppRepo) FindByPackageName(ctx context.Context, packageName string) (*model.App, error) {
	app, err := r.findOne(ctx, "package_name = $1", packageName)
	if err != nil {
		return nil, fmt.Errorf("failed to find app by package name: %w", err)
	}
	return app, nil
}

// List はフィルタ条件に一致するアプリをID昇順で返す。
func (r *PostgresAppRepo) List(ctx context.Context, filter model.AppListFilter) ([]*model.App, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.InvolvedUserID != nil {
		args = append(args, *filter.InvolvedUserID)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(created_by = $%d OR assigned_pm = $%d OR assigned_marketing = $%d)", n, n, n))
	}

	query := `SELECT ` + appColumns + ` FROM apps`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Offset, filter.Limit)
	query += fmt.Sprintf(` ORDER BY id OFFSET $%d LIMIT $%d`, len(args)-1, len(args))

	apps := []*model.App{}
	if err := sqlx.SelectContext(ctx, r.db, &apps, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	return apps, nil
}

// Create はアプリを作成する。
func (r *PostgresAppRepo) Create(ctx context.Context, app *model.App) error {
	normalizeArrays(app)
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO apps (name, package_name, description, app_type, platform, version, build_number,
		     status, is_published, icon_url, screenshots, category, tags, target_audience,
		     created_by, assigned_pm, assigned_marketing, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id, created_at`,
		app.Name, app.PackageName, app.Description, app.AppType, app.Platform, app.Version, app.BuildNumber,
		app.Status, app.IsPublished, app.IconURL, app.Screenshots, app.Category, app.Tags, app.TargetAudience,
		app.CreatedBy, app.AssignedPM, app.AssignedMarketing, app.PublishedAt,
	).Scan(&app.ID, &app.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert app: %w", translatePQError(err))
	}
	return nil
}

// Update はアプリの可変項目を上書き保存する。package_nameとcreated_byは変更しない。
func (r *PostgresAppRepo) Update(ctx context.Context, app *model.App) error {
	normalizeArrays(app)
	var updatedAt time.Time
	err := r.db.QueryRowxContext(ctx,
		`UPDATE apps
		 SET name = $2, description = $3, version = $4, build_number = $5, status = $6,
		     is_published = $7, icon_url = $8, screenshots = $9, category = $10, tags = $11,
		     target_audience = $12, assigned_pm = $13, assigned_marketing = $14,
		     published_at = $15, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		app.ID, app.Name, app.Description, app.Version, app.BuildNumber, app.Status,
		app.IsPublished, app.IconURL, app.Screenshots, app.Category, app.Tags,
		app.TargetAudience, app.AssignedPM, app.AssignedMarketing, app.PublishedAt,
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("app not found: %d", app.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update app: %w", translatePQError(err))
	}
	app.UpdatedAt = &updatedAt
	return nil
}

// DeleteByID は指定IDのアプリを削除する。
func (r *PostgresAppRepo) DeleteByID(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM apps WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete app: %w", translatePQError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// normalizeArrays はNOT NULLの配列カラムにnilを書き込まないよう空配列に置き換える。
func normalizeArrays(app *model.App) {
	if app.Tags == nil {
		app.Tags = pq.StringArray{}
	}
	if app.Screenshots == nil {
		app.Screenshots = pq.StringArray{}
	}
}

// compile-time interface check
var _ AppRepository = (*PostgresAppRepo)(nil)
