// Package directory はユーザーの検索・登録・更新を提供する。
// ロールや有効状態の変更可否は判定しない（呼び出し側のサービスで判定する）。
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/pubadmin/internal/model"
	"github.com/hitoshi/pubadmin/internal/repository"
)

// Directory はユーザーディレクトリ。
// 1つのトランザクションに束縛されたUserRepositoryに対して生成して使う。
type Directory struct {
	users repository.UserRepository
	now   func() time.Time
}

// New はDirectoryを生成する。nowがnilの場合はtime.Nowを使用する。
func New(users repository.UserRepository, now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{users: users, now: now}
}

// FindByID は指定IDのユーザーを返す。存在しない場合はUSER_NOT_FOUNDを返す。
func (d *Directory) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := d.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを返す。存在しない場合はUSER_NOT_FOUNDを返す。
func (d *Directory) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := d.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// List はユーザー一覧を返す。
func (d *Directory) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	return d.users.List(ctx, offset, limit)
}

// UpsertFromIdentity は検証済みの本人情報でユーザーを作成または更新する。
// メールアドレスが未登録の場合はデフォルトロールで作成し、登録済みの場合は
// Google ID・アバター・氏名・検証済みフラグ・最終ログイン日時を更新する。
func (d *Directory) UpsertFromIdentity(ctx context.Context, claim *model.IdentityClaim) (*model.User, error) {
	email := normalizeEmail(claim.Email)
	if email == "" {
		return nil, model.NewValidationError("メールアドレスがありません")
	}
	now := d.now()

	existing, err := d.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if claim.Subject != "" {
		owner, err := d.users.FindByGoogleID(ctx, claim.Subject)
		if err != nil {
			return nil, err
		}
		if owner != nil && (existing == nil || owner.ID != existing.ID) {
			return nil, model.NewDuplicateIdentityError()
		}
	}

	if existing == nil {
		fullName := claim.Name
		if fullName == "" {
			fullName = email
		}
		user := &model.User{
			Email:      email,
			FullName:   fullName,
			AvatarURL:  optional(claim.Picture),
			GoogleID:   optional(claim.Subject),
			Role:       model.DefaultRole,
			IsActive:   true,
			IsVerified: true,
			LastLogin:  &now,
		}
		created, err := d.users.CreateIfAbsent(ctx, user)
		if err != nil {
			return nil, translateUniqueViolation(err)
		}
		if created {
			return user, nil
		}
		// 同じメールアドレスの初回ログインが先に登録を済ませた
		existing, err = d.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("user %q not found after conflicting insert", email)
		}
	}

	if claim.Subject != "" {
		existing.GoogleID = optional(claim.Subject)
	}
	if claim.Picture != "" {
		existing.AvatarURL = optional(claim.Picture)
	}
	if claim.Name != "" {
		existing.FullName = claim.Name
	}
	existing.IsVerified = true
	existing.LastLogin = &now

	if err := d.users.Update(ctx, existing); err != nil {
		return nil, translateUniqueViolation(err)
	}
	return existing, nil
}

// Create はユーザーを作成する。ロール未指定の場合はデフォルトロールを使用する。
func (d *Directory) Create(ctx context.Context, in model.NewUserInput) (*model.User, error) {
	email := normalizeEmail(in.Email)
	existing, err := d.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.NewDuplicateEmailError()
	}

	role := in.Role
	if role == "" {
		role = model.DefaultRole
	}
	user := &model.User{
		Email:     email,
		FullName:  in.FullName,
		AvatarURL: in.AvatarURL,
		GoogleID:  in.GoogleID,
		Role:      role,
		IsActive:  true,
	}
	if err := d.users.Create(ctx, user); err != nil {
		return nil, translateUniqueViolation(err)
	}
	return user, nil
}

// Update はpatchの非nilフィールドを反映する。
func (d *Directory) Update(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error) {
	user, err := d.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.FullName != nil {
		user.FullName = *patch.FullName
	}
	if patch.Role != nil {
		user.Role = *patch.Role
	}
	if patch.IsActive != nil {
		user.IsActive = *patch.IsActive
	}
	if err := d.users.Update(ctx, user); err != nil {
		return nil, translateUniqueViolation(err)
	}
	return user, nil
}

// Delete はユーザーを削除する。作成したアプリやキャンペーンが残っている場合は削除できない。
func (d *Directory) Delete(ctx context.Context, id int64) error {
	deleted, err := d.users.DeleteByID(ctx, id)
	switch {
	case repository.IsForeignKeyViolation(err, repository.ConstraintAppsCreatedBy):
		return model.NewValidationError("このユーザーが作成したアプリが存在するため削除できません")
	case repository.IsForeignKeyViolation(err, repository.ConstraintMarketingCampaignsCreatedBy):
		return model.NewValidationError("このユーザーが作成したキャンペーンが存在するため削除できません")
	case repository.IsForeignKeyViolation(err, ""):
		return model.NewValidationError("このユーザーを参照するデータが存在するため削除できません")
	}
	if err != nil {
		return err
	}
	if !deleted {
		return model.NewUserNotFoundError()
	}
	return nil
}

// translateUniqueViolation は一意制約違反を対応するConflictエラーに変換する。
func translateUniqueViolation(err error) error {
	switch {
	case repository.IsUniqueViolation(err, repository.ConstraintUsersEmail):
		return model.NewDuplicateEmailError()
	case repository.IsUniqueViolation(err, repository.ConstraintUsersGoogleID):
		return model.NewDuplicateIdentityError()
	}
	return fmt.Errorf("failed to save user: %w", err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
