// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/pubadmin/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByGoogleID はGoogleのsubでユーザーを検索する。見つからない場合はnilを返す。
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)

	// List はID昇順でユーザー一覧を返す。
	List(ctx context.Context, offset, limit int) ([]*model.User, error)

	// Create はユーザーを作成し、採番されたIDと作成日時をuserに設定する。
	// email・google_idの一意制約違反時は*UniqueViolationErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateIfAbsent はemailが未登録の場合のみユーザーを作成する。
	// 同じemailのレコードが既にあればfalseを返し、userは変更しない。
	// google_idの一意制約違反時は*UniqueViolationErrorを返す。
	CreateIfAbsent(ctx context.Context, user *model.User) (bool, error)

	// Update はユーザーの可変項目を上書き保存する。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。存在しない場合はfalseを返す。
	// 作成したアプリが残っている場合は*ForeignKeyViolationErrorを返す。
	DeleteByID(ctx context.Context, id int64) (bool, error)
}

// AppRepository はアプリデータの永続化インターフェース。
type AppRepository interface {
	// FindByID は指定IDのアプリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.App, error)

	// FindByPackageName はパッケージ名でアプリを検索する。見つからない場合はnilを返す。
	FindByPackageName(ctx context.Context, packageName string) (*model.App, error)

	// List はフィルタ条件に一致するアプリをID昇順で返す。
	List(ctx context.Context, filter model.AppListFilter) ([]*model.App, error)

	// Create はアプリを作成し、採番されたIDと作成日時をappに設定する。
	// package_nameの一意制約違反時は*UniqueViolationErrorを返す。
	Create(ctx context.Context, app *model.App) error

	// Update はアプリの可変項目を上書き保存する。
	Update(ctx context.Context, app *model.App) error

	// DeleteByID は指定IDのアプリを削除する。存在しない場合はfalseを返す。
	// 関連する分析データはCASCADE削除される。
	DeleteByID(ctx context.Context, id int64) (bool, error)
}

// Repositories は同一トランザクション内で使用するリポジトリの組。
type Repositories interface {
	Users() UserRepository
	Apps() AppRepository
}

// Store はリポジトリへのアクセスとトランザクション境界を提供する。
type Store interface {
	Repositories

	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
