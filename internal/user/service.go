// Package user はユーザー管理のドメインロジックを提供する。
// 各操作は1つのトランザクション内でアクセス可否を判定してから実行する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pubadmin/internal/directory"
	"github.com/hitoshi/pubadmin/internal/model"
	"github.com/hitoshi/pubadmin/internal/policy"
	"github.com/hitoshi/pubadmin/internal/repository"
)

// Service はユーザー管理のサービス層。
type Service struct {
	store  repository.Store
	denied policy.DenialRecorder
	now    func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。deniedはnilでもよい。
func NewService(store repository.Store, denied policy.DenialRecorder) *Service {
	return &Service{
		store:  store,
		denied: denied,
		now:    time.Now,
	}
}

// Get は指定IDのユーザーを返す。管理者以外は自分自身のみ参照できる。
func (s *Service) Get(ctx context.Context, actor *model.User, id int64) (*model.User, error) {
	var user *model.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		target, err := directory.New(repos.Users(), s.now).FindByID(ctx, id)
		if err != nil {
			return err
		}
		if !s.allow(actor, policy.ActionRead, isSelf(actor, id)) {
			return model.NewPermissionDeniedError()
		}
		user = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// List はユーザー一覧を返す。管理者以外には自分自身だけが見える。
func (s *Service) List(ctx context.Context, actor *model.User, offset, limit int) ([]*model.User, error) {
	if actor == nil {
		return nil, model.NewPermissionDeniedError()
	}
	if !policy.CanListAll(actor, policy.KindUser) {
		if offset > 0 {
			return []*model.User{}, nil
		}
		self, err := s.store.Users().FindByID(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find actor: %w", err)
		}
		if self == nil {
			return []*model.User{}, nil
		}
		return []*model.User{self}, nil
	}

	users, err := directory.New(s.store.Users(), s.now).List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Create はユーザーを作成する。管理者のみ実行できる。
func (s *Service) Create(ctx context.Context, actor *model.User, in model.NewUserInput) (*model.User, error) {
	if !s.allow(actor, policy.ActionCreate, false) {
		return nil, model.NewPermissionDeniedError()
	}
	if in.Email == "" {
		return nil, model.NewValidationError("メールアドレスは必須です")
	}
	if in.FullName == "" {
		return nil, model.NewValidationError("氏名は必須です")
	}
	if in.Role != "" && !in.Role.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明なロールです: %s", in.Role))
	}

	var created *model.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		u, err := directory.New(repos.Users(), s.now).Create(ctx, in)
		if err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("user created",
		slog.Int64("user_id", created.ID),
		slog.Int64("actor_id", actor.ID),
		slog.String("role", string(created.Role)),
	)
	return created, nil
}

// Update はユーザーを更新する。
// 管理者以外によるrole・is_activeの変更は黙って無視し、その他のフィールドは反映する。
func (s *Service) Update(ctx context.Context, actor *model.User, id int64, patch model.UserPatch) (*model.User, error) {
	self := isSelf(actor, id)
	if patch.Role != nil && !patch.Role.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("不明なロールです: %s", *patch.Role))
	}
	if patch.FullName != nil && *patch.FullName == "" {
		return nil, model.NewValidationError("氏名は空にできません")
	}

	var updated *model.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		dir := directory.New(repos.Users(), s.now)
		if _, err := dir.FindByID(ctx, id); err != nil {
			return err
		}
		if !s.allow(actor, policy.ActionUpdate, self) {
			return model.NewPermissionDeniedError()
		}
		if !policy.Allow(actor, policy.Resource{Kind: policy.KindUser}, policy.ActionManage, self) {
			patch.Role = nil
			patch.IsActive = nil
		}
		u, err := dir.Update(ctx, id, patch)
		if err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("user updated",
		slog.Int64("user_id", id),
		slog.Int64("actor_id", actor.ID),
	)
	return updated, nil
}

// Delete はユーザーを削除する。管理者のみ実行でき、自分自身は削除できない。
func (s *Service) Delete(ctx context.Context, actor *model.User, id int64) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		dir := directory.New(repos.Users(), s.now)
		if _, err := dir.FindByID(ctx, id); err != nil {
			return err
		}
		if !s.allow(actor, policy.ActionDelete, isSelf(actor, id)) {
			return model.NewPermissionDeniedError()
		}
		if isSelf(actor, id) {
			return model.NewCannotDeleteSelfError()
		}
		return dir.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	slog.Info("user deleted",
		slog.Int64("user_id", id),
		slog.Int64("actor_id", actor.ID),
	)
	return nil
}

func (s *Service) allow(actor *model.User, action policy.Action, self bool) bool {
	if policy.Allow(actor, policy.Resource{Kind: policy.KindUser}, action, self) {
		return true
	}
	if s.denied != nil {
		s.denied.RecordDenial(policy.KindUser, action)
	}
	return false
}

func isSelf(actor *model.User, id int64) bool {
	return actor != nil && actor.ID == id
}
