// Package memory はプロセス内メモリ上のStore実装を提供する。
// テストおよびローカル開発用であり、再起動でデータは失われる。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/pubadmin/internal/model"
	"github.com/hitoshi/pubadmin/internal/repository"
)

// Store はメモリ上のrepository.Store実装。
// トランザクションは直列化され、fnがエラーを返した場合はスナップショットに戻す。
type Store struct {
	mu   sync.Mutex
	data *dataset
	now  func() time.Time
}

type dataset struct {
	users      map[int64]*model.User
	apps       map[int64]*model.App
	nextUserID int64
	nextAppID  int64
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		data: &dataset{
			users:      map[int64]*model.User{},
			apps:       map[int64]*model.App{},
			nextUserID: 1,
			nextAppID:  1,
		},
		now: time.Now,
	}
}

// Users はトランザクション外で使用するユーザーリポジトリを返す。
func (s *Store) Users() repository.UserRepository {
	return &userRepo{s: s, locked: false}
}

// Apps はトランザクション外で使用するアプリリポジトリを返す。
func (s *Store) Apps() repository.AppRepository {
	return &appRepo{s: s, locked: false}
}

// WithinTx はfnを排他的に実行し、エラー時は変更を破棄する。
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, txRepos{s: s}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

type txRepos struct {
	s *Store
}

func (r txRepos) Users() repository.UserRepository { return &userRepo{s: r.s, locked: true} }
func (r txRepos) Apps() repository.AppRepository   { return &appRepo{s: r.s, locked: true} }

// lock はトランザクション外からの呼び出し時のみロックを取得する。
func (s *Store) lock(locked bool) func() {
	if locked {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		users:      make(map[int64]*model.User, len(d.users)),
		apps:       make(map[int64]*model.App, len(d.apps)),
		nextUserID: d.nextUserID,
		nextAppID:  d.nextAppID,
	}
	for id, u := range d.users {
		c.users[id] = copyUser(u)
	}
	for id, a := range d.apps {
		c.apps[id] = copyApp(a)
	}
	return c
}

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

func copyApp(a *model.App) *model.App {
	c := *a
	c.Tags = append(pq.StringArray{}, a.Tags...)
	c.Screenshots = append(pq.StringArray{}, a.Screenshots...)
	return &c
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

type userRepo struct {
	s      *Store
	locked bool
}

func (r *userRepo) find(match func(*model.User) bool) *model.User {
	for _, u := range r.s.data.users {
		if match(u) {
			return copyUser(u)
		}
	}
	return nil
}

func (r *userRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	defer r.s.lock(r.locked)()
	if u, ok := r.s.data.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

func (r *userRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	defer r.s.lock(r.locked)()
	return r.find(func(u *model.User) bool { return u.Email == email }), nil
}

func (r *userRepo) FindByGoogleID(_ context.Context, googleID string) (*model.User, error) {
	defer r.s.lock(r.locked)()
	return r.find(func(u *model.User) bool { return u.GoogleID != nil && *u.GoogleID == googleID }), nil
}

func (r *userRepo) List(_ context.Context, offset, limit int) ([]*model.User, error) {
	defer r.s.lock(r.locked)()
	users := make([]*model.User, 0, len(r.s.data.users))
	for _, u := range r.s.data.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return page(users, offset, limit), nil
}

// checkUnique はemail・google_idの一意性を検証する。selfIDのレコードは除外する。
func (r *userRepo) checkUnique(user *model.User, selfID int64) error {
	for _, u := range r.s.data.users {
		if u.ID == selfID {
			continue
		}
		if u.Email == user.Email {
			return &repository.UniqueViolationError{Constraint: repository.ConstraintUsersEmail, Err: fmt.Errorf("email %q exists", user.Email)}
		}
		if user.GoogleID != nil && u.GoogleID != nil && *u.GoogleID == *user.GoogleID {
			return &repository.UniqueViolationError{Constraint: repository.ConstraintUsersGoogleID, Err: fmt.Errorf("google_id %q exists", *user.GoogleID)}
		}
	}
	return nil
}

func (r *userRepo) Create(_ context.Context, user *model.User) error {
	defer r.s.lock(r.locked)()
	if err := r.checkUnique(user, 0); err != nil {
		return err
	}
	user.ID = r.s.data.nextUserID
	r.s.data.nextUserID++
	user.CreatedAt = r.s.now()
	r.s.data.users[user.ID] = copyUser(user)
	return nil
}

func (r *userRepo) CreateIfAbsent(ctx context.Context, user *model.User) (bool, error) {
	defer r.s.lock(r.locked)()
	if r.find(func(u *model.User) bool { return u.Email == user.Email }) != nil {
		return false, nil
	}
	if err := r.checkUnique(user, 0); err != nil {
		return false, err
	}
	user.ID = r.s.data.nextUserID
	r.s.data.nextUserID++
	user.CreatedAt = r.s.now()
	r.s.data.users[user.ID] = copyUser(user)
	return true, nil
}

func (r *userRepo) Update(_ context.Context, user *model.User) error {
	defer r.s.lock(r.locked)()
	existing, ok := r.s.data.users[user.ID]
	if !ok {
		return fmt.Errorf("user not found: %d", user.ID)
	}
	if err := r.checkUnique(user, user.ID); err != nil {
		return err
	}
	now := r.s.now()
	user.UpdatedAt = &now
	user.CreatedAt = existing.CreatedAt
	r.s.data.users[user.ID] = copyUser(user)
	return nil
}

func (r *userRepo) DeleteByID(_ context.Context, id int64) (bool, error) {
	defer r.s.lock(r.locked)()
	if _, ok := r.s.data.users[id]; !ok {
		return false, nil
	}
	for _, a := range r.s.data.apps {
		if a.CreatedBy == id {
			return false, &repository.ForeignKeyViolationError{Constraint: repository.ConstraintAppsCreatedBy, Err: fmt.Errorf("user %d owns app %d", id, a.ID)}
		}
	}
	for _, a := range r.s.data.apps {
		if a.AssignedPM != nil && *a.AssignedPM == id {
			a.AssignedPM = nil
		}
		if a.AssignedMarketing != nil && *a.AssignedMarketing == id {
			a.AssignedMarketing = nil
		}
	}
	delete(r.s.data.users, id)
	return true, nil
}

type appRepo struct {
	s      *Store
	locked bool
}

func (r *appRepo) FindByID(_ context.Context, id int64) (*model.App, error) {
	defer r.s.lock(r.locked)()
	if a, ok := r.s.data.apps[id]; ok {
		return copyApp(a), nil
	}
	return nil, nil
}

func (r *appRepo) FindByPackageName(_ context.Context, packageName string) (*model.App, error) {
	defer r.s.lock(r.locked)()
	for _, a := range r.s.data.apps {
		if a.PackageName == packageName {
			return copyApp(a), nil
		}
	}
	return nil, nil
}

func (r *appRepo) List(_ context.Context, filter model.AppListFilter) ([]*model.App, error) {
	defer r.s.lock(r.locked)()
	apps := []*model.App{}
	for _, a := range r.s.data.apps {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if uid := filter.InvolvedUserID; uid != nil {
			involved := a.CreatedBy == *uid ||
				(a.AssignedPM != nil && *a.AssignedPM == *uid) ||
				(a.AssignedMarketing != nil && *a.AssignedMarketing == *uid)
			if !involved {
				continue
			}
		}
		apps = append(apps, copyApp(a))
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })
	return page(apps, filter.Offset, filter.Limit), nil
}

func (r *appRepo) checkReferences(app *model.App) error {
	refs := []*int64{&app.CreatedBy, app.AssignedPM, app.AssignedMarketing}
	for _, ref := range refs {
		if ref == nil {
			continue
		}
		if _, ok := r.s.data.users[*ref]; !ok {
			return &repository.ForeignKeyViolationError{Constraint: "apps_users_fkey", Err: fmt.Errorf("user %d does not exist", *ref)}
		}
	}
	return nil
}

func (r *appRepo) Create(_ context.Context, app *model.App) error {
	defer r.s.lock(r.locked)()
	for _, a := range r.s.data.apps {
		if a.PackageName == app.PackageName {
			return &repository.UniqueViolationError{Constraint: repository.ConstraintAppsPackageName, Err: fmt.Errorf("package_name %q exists", app.PackageName)}
		}
	}
	if err := r.checkReferences(app); err != nil {
		return err
	}
	app.ID = r.s.data.nextAppID
	r.s.data.nextAppID++
	app.CreatedAt = r.s.now()
	r.s.data.apps[app.ID] = copyApp(app)
	return nil
}

func (r *appRepo) Update(_ context.Context, app *model.App) error {
	defer r.s.lock(r.locked)()
	existing, ok := r.s.data.apps[app.ID]
	if !ok {
		return fmt.Errorf("app not found: %d", app.ID)
	}
	if err := r.checkReferences(app); err != nil {
		return err
	}
	now := r.s.now()
	app.UpdatedAt = &now
	app.PackageName = existing.PackageName
	app.CreatedBy = existing.CreatedBy
	app.CreatedAt = existing.CreatedAt
	r.s.data.apps[app.ID] = copyApp(app)
	return nil
}

func (r *appRepo) DeleteByID(_ context.Context, id int64) (bool, error) {
	defer r.s.lock(r.locked)()
	if _, ok := r.s.data.apps[id]; !ok {
		return false, nil
	}
	delete(r.s.data.apps, id)
	return true, nil
}

// compile-time interface check
var (
	_ repository.Store          = (*Store)(nil)
	_ repository.UserRepository = (*userRepo)(nil)
	_ repository.AppRepository  = (*appRepo)(nil)
)
