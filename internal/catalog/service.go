// Package catalog はアプリカタログの参照・登録・更新・削除とファイルアップロードを提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/pubadmin/internal/model"
	"github.com/hitoshi/pubadmin/internal/policy"
	"github.com/hitoshi/pubadmin/internal/repository"
	"github.com/hitoshi/pubadmin/internal/security"
	"github.com/hitoshi/pubadmin/internal/storage"
)

// 入力値の上限
const (
	maxNameLength        = 255
	maxPackageNameLength = 255
	maxTags              = 20
	maxScreenshots       = 10
	defaultVersion       = "1.0.0"
	defaultBuildNumber   = 1
)

// UploadLimits はアップロードファイルの制限。
type UploadLimits struct {
	MaxSize           int64
	AllowedExtensions []string // 小文字、先頭ドット付き
}

// UploadInput はアップロードされたファイル。
type UploadInput struct {
	Filename    string
	Size        int64
	ContentType string
	Body        io.Reader
}

// Service はアプリカタログのサービス層。
type Service struct {
	store     repository.Store
	sanitizer security.Sanitizer
	blobs     storage.BlobStore
	limits    UploadLimits
	denied    policy.DenialRecorder
	now       func() time.Time
}

// NewService はServiceを生成する。deniedはnilでもよい。
func NewService(
	store repository.Store,
	sanitizer security.Sanitizer,
	blobs storage.BlobStore,
	limits UploadLimits,
	denied policy.DenialRecorder,
) *Service {
	return &Service{
		store:     store,
		sanitizer: sanitizer,
		blobs:     blobs,
		limits:    limits,
		denied:    denied,
		now:       time.Now,
	}
}

// List はアプリ一覧を返す。管理者・経営層以外は関係するアプリのみに絞り込む。
func (s *Service) List(ctx context.Context, actor *model.User, filter model.AppListFilter) ([]*model.App, error) {
	if !policy.Allow(actor, policy.Resource{Kind: policy.KindApp}, policy.ActionList, false) {
		return nil, model.NewPermissionDeniedError()
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明なステータスです: %s", *filter.Status))
	}
	if !policy.CanListAll(actor, policy.KindApp) {
		id := actor.ID
		filter.InvolvedUserID = &id
	}

	apps, err := s.store.Apps().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	return apps, nil
}

// Get は指定IDのアプリを返す。関係者でない場合はPERMISSION_DENIEDを返す。
func (s *Service) Get(ctx context.Context, actor *model.User, id int64) (*model.App, error) {
	var app *model.App
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		a, err := s.load(ctx, repos, id)
		if err != nil {
			return err
		}
		if !s.allow(actor, a, policy.ActionRead) {
			return model.NewPermissionDeniedError()
		}
		app = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Create はアプリを登録する。作成者は操作者になる。
func (s *Service) Create(ctx context.Context, actor *model.User, in model.NewAppInput) (*model.App, error) {
	if !s.allow(actor, nil, policy.ActionCreate) {
		return nil, model.NewPermissionDeniedError()
	}
	app, err := s.buildApp(actor, in)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		existing, err := repos.Apps().FindByPackageName(ctx, app.PackageName)
		if err != nil {
			return fmt.Errorf("failed to find app by package name: %w", err)
		}
		if existing != nil {
			return model.NewDuplicatePackageNameError(app.PackageName)
		}
		if err := repos.Apps().Create(ctx, app); err != nil {
			return translateAppError(err, app.PackageName)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("app created",
		slog.Int64("app_id", app.ID),
		slog.String("package_name", app.PackageName),
		slog.Int64("actor_id", actor.ID),
	)
	return app, nil
}

// Update はアプリを更新する。ステータスは遷移を検証せずに設定し、
// publishedへの変更時にis_publishedとpublished_atを更新する。
func (s *Service) Update(ctx context.Context, actor *model.User, id int64, patch model.AppPatch) (*model.App, error) {
	var app *model.App
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		a, err := s.load(ctx, repos, id)
		if err != nil {
			return err
		}
		if !s.allow(actor, a, policy.ActionUpdate) {
			return model.NewPermissionDeniedError()
		}
		if err := s.applyPatch(a, patch); err != nil {
			return err
		}
		for _, ref := range []*int64{patch.AssignedPM.Value, patch.AssignedMarketing.Value} {
			if ref == nil {
				continue
			}
			u, err := repos.Users().FindByID(ctx, *ref)
			if err != nil {
				return fmt.Errorf("failed to find assignee: %w", err)
			}
			if u == nil {
				return model.NewValidationError(fmt.Sprintf("割り当て先のユーザーが存在しません: %d", *ref))
			}
		}
		if err := repos.Apps().Update(ctx, a); err != nil {
			return translateAppError(err, a.PackageName)
		}
		app = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("app updated",
		slog.Int64("app_id", id),
		slog.String("status", string(app.Status)),
		slog.Int64("actor_id", actor.ID),
	)
	return app, nil
}

// Delete はアプリを削除する。管理者と作成者のみ実行できる。
func (s *Service) Delete(ctx context.Context, actor *model.User, id int64) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		a, err := s.load(ctx, repos, id)
		if err != nil {
			return err
		}
		if !s.allow(actor, a, policy.ActionDelete) {
			return model.NewPermissionDeniedError()
		}
		deleted, err := repos.Apps().DeleteByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to delete app: %w", err)
		}
		if !deleted {
			return model.NewAppNotFoundError(id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("app deleted",
		slog.Int64("app_id", id),
		slog.Int64("actor_id", actor.ID),
	)
	return nil
}

// Upload はアプリに紐づくファイルを保存する。
// サイズと拡張子を検証してからBlobStoreに書き込む。
func (s *Service) Upload(ctx context.Context, actor *model.User, id int64, in UploadInput) (*model.UploadedFile, error) {
	app, err := s.store.Apps().FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find app: %w", err)
	}
	if app == nil {
		return nil, model.NewAppNotFoundError(id)
	}
	if !s.allow(actor, app, policy.ActionUpload) {
		return nil, model.NewPermissionDeniedError()
	}

	if in.Filename == "" {
		return nil, model.NewValidationError("ファイル名がありません")
	}
	ext := strings.ToLower(filepath.Ext(in.Filename))
	if !slices.Contains(s.limits.AllowedExtensions, ext) {
		return nil, model.NewUnsupportedFileTypeError(ext)
	}
	if in.Size > s.limits.MaxSize {
		return nil, model.NewFileTooLargeError(s.limits.MaxSize)
	}

	key := storage.ObjectKey(app.ID, in.Filename)
	url, err := s.blobs.Put(ctx, key, io.LimitReader(in.Body, s.limits.MaxSize+1), in.Size, in.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	slog.Info("app file uploaded",
		slog.Int64("app_id", app.ID),
		slog.String("key", key),
		slog.Int64("size", in.Size),
		slog.Int64("actor_id", actor.ID),
	)
	return &model.UploadedFile{
		AppID:       app.ID,
		Filename:    filepath.Base(in.Filename),
		Key:         key,
		URL:         url,
		Size:        in.Size,
		ContentType: in.ContentType,
	}, nil
}

func (s *Service) load(ctx context.Context, repos repository.Repositories, id int64) (*model.App, error) {
	app, err := repos.Apps().FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find app: %w", err)
	}
	if app == nil {
		return nil, model.NewAppNotFoundError(id)
	}
	return app, nil
}

func (s *Service) allow(actor *model.User, app *model.App, action policy.Action) bool {
	if policy.Allow(actor, policy.App(app), action, false) {
		return true
	}
	if s.denied != nil {
		s.denied.RecordDenial(policy.KindApp, action)
	}
	return false
}

func (s *Service) buildApp(actor *model.User, in model.NewAppInput) (*model.App, error) {
	name := strings.TrimSpace(in.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	pkg := strings.TrimSpace(in.PackageName)
	if pkg == "" || len(pkg) > maxPackageNameLength || strings.ContainsAny(pkg, " \t\r\n/") {
		return nil, model.NewValidationError("パッケージ名が不正です")
	}
	if !in.AppType.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明なアプリ種別です: %s", in.AppType))
	}
	if !in.Platform.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明なプラットフォームです: %s", in.Platform))
	}

	app := &model.App{
		Name:           name,
		PackageName:    pkg,
		AppType:        in.AppType,
		Platform:       in.Platform,
		Version:        in.Version,
		BuildNumber:    in.BuildNumber,
		Status:         model.AppStatusDraft,
		Category:       in.Category,
		TargetAudience: in.TargetAudience,
		CreatedBy:      actor.ID,
	}
	if app.Version == "" {
		app.Version = defaultVersion
	}
	if app.BuildNumber == 0 {
		app.BuildNumber = defaultBuildNumber
	}
	if app.BuildNumber < 0 {
		return nil, model.NewValidationError("ビルド番号は1以上を指定してください")
	}
	app.Description = s.sanitize(in.Description)

	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}
	app.Tags = tags

	if err := validateMedia(in.IconURL, in.Screenshots); err != nil {
		return nil, err
	}
	app.IconURL = in.IconURL
	app.Screenshots = append([]string{}, in.Screenshots...)
	return app, nil
}

func (s *Service) applyPatch(app *model.App, patch model.AppPatch) error {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if err := validateName(name); err != nil {
			return err
		}
		app.Name = name
	}
	if patch.Description.Set {
		app.Description = s.sanitize(patch.Description.Value)
	}
	if patch.Version != nil {
		if *patch.Version == "" {
			return model.NewValidationError("バージョンは空にできません")
		}
		app.Version = *patch.Version
	}
	if patch.BuildNumber != nil {
		if *patch.BuildNumber < 1 {
			return model.NewValidationError("ビルド番号は1以上を指定してください")
		}
		app.BuildNumber = *patch.BuildNumber
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return model.NewValidationError(fmt.Sprintf("不明なステータスです: %s", *patch.Status))
		}
		app.Status = *patch.Status
		app.IsPublished = app.Status == model.AppStatusPublished
		if app.IsPublished && app.PublishedAt == nil {
			now := s.now()
			app.PublishedAt = &now
		}
	}
	patch.Category.ApplyTo(&app.Category)
	patch.TargetAudience.ApplyTo(&app.TargetAudience)
	if patch.Tags != nil {
		tags, err := normalizeTags(patch.Tags)
		if err != nil {
			return err
		}
		app.Tags = tags
	}
	if err := validateMedia(patch.IconURL.Value, patch.Screenshots); err != nil {
		return err
	}
	patch.IconURL.ApplyTo(&app.IconURL)
	if patch.Screenshots != nil {
		app.Screenshots = append([]string{}, patch.Screenshots...)
	}
	patch.AssignedPM.ApplyTo(&app.AssignedPM)
	patch.AssignedMarketing.ApplyTo(&app.AssignedMarketing)
	return nil
}

func (s *Service) sanitize(description *string) *string {
	if description == nil {
		return nil
	}
	clean := s.sanitizer.Sanitize(*description)
	if clean == "" {
		return nil
	}
	return &clean
}

func validateName(name string) error {
	if name == "" {
		return model.NewValidationError("アプリ名は必須です")
	}
	if len(name) > maxNameLength {
		return model.NewValidationError("アプリ名が長すぎます")
	}
	return nil
}

// normalizeTags は前後の空白を除去し、空のタグと重複を取り除く。
func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, model.NewValidationError(fmt.Sprintf("タグは%d個までです", maxTags))
	}
	return out, nil
}

func validateMedia(iconURL *string, screenshots []string) error {
	if iconURL != nil && *iconURL != "" {
		if err := security.ValidateMediaURL(*iconURL); err != nil {
			return model.NewValidationError(fmt.Sprintf("アイコンURLが不正です: %v", err))
		}
	}
	if len(screenshots) > maxScreenshots {
		return model.NewValidationError(fmt.Sprintf("スクリーンショットは%d枚までです", maxScreenshots))
	}
	for _, u := range screenshots {
		if err := security.ValidateMediaURL(u); err != nil {
			return model.NewValidationError(fmt.Sprintf("スクリーンショットURLが不正です: %v", err))
		}
	}
	return nil
}

// translateAppError はリポジトリの制約違反をAPIエラーに変換する。
func translateAppError(err error, packageName string) error {
	switch {
	case repository.IsUniqueViolation(err, repository.ConstraintAppsPackageName):
		return model.NewDuplicatePackageNameError(packageName)
	case repository.IsForeignKeyViolation(err, ""):
		return model.NewValidationError("参照先のユーザーが存在しません")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("failed to save app: %w", err)
}
