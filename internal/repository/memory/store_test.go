package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/pubadmin/internal/model"
	"github.com/hitoshi/pubadmin/internal/repository"
)

func strPtr(s string) *string { return &s }

func newUser(email string) *model.User {
	return &model.User{Email: email, FullName: email, Role: model.DefaultRole, IsActive: true}
}

func TestStore_UserCreateAssignsIDs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	a := newUser("a@example.com")
	b := newUser("b@example.com")
	require.NoError(t, s.Users().Create(ctx, a))
	require.NoError(t, s.Users().Create(ctx, b))

	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
	assert.False(t, a.CreatedAt.IsZero())

	got, err := s.Users().FindByEmail(ctx, "b@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.ID, got.ID)
}

func TestStore_UserCreateIfAbsent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	a := newUser("a@example.com")
	created, err := s.Users().CreateIfAbsent(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), a.ID)

	dup := newUser("a@example.com")
	created, err = s.Users().CreateIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Zero(t, dup.ID)
}

func TestStore_UserUniqueConstraints(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	first := newUser("a@example.com")
	first.GoogleID = strPtr("sub-1")
	require.NoError(t, s.Users().Create(ctx, first))

	err := s.Users().Create(ctx, newUser("a@example.com"))
	assert.True(t, repository.IsUniqueViolation(err, repository.ConstraintUsersEmail))

	second := newUser("b@example.com")
	second.GoogleID = strPtr("sub-1")
	err = s.Users().Create(ctx, second)
	assert.True(t, repository.IsUniqueViolation(err, repository.ConstraintUsersGoogleID))
}

func TestStore_ReturnedRecordsAreCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	u := newUser("a@example.com")
	require.NoError(t, s.Users().Create(ctx, u))

	got, _ := s.Users().FindByID(ctx, u.ID)
	got.FullName = "mutated"

	again, _ := s.Users().FindByID(ctx, u.ID)
	assert.Equal(t, "a@example.com", again.FullName)
}

func TestStore_WithinTx_RollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		require.NoError(t, repos.Users().Create(ctx, newUser("a@example.com")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Users().FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_WithinTx_Commits(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Users().Create(ctx, newUser("a@example.com"))
	})
	require.NoError(t, err)

	got, _ := s.Users().FindByEmail(ctx, "a@example.com")
	assert.NotNil(t, got)
}

func TestStore_AppListFilters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	owner := newUser("owner@example.com")
	pm := newUser("pm@example.com")
	other := newUser("other@example.com")
	for _, u := range []*model.User{owner, pm, other} {
		require.NoError(t, s.Users().Create(ctx, u))
	}

	published := model.AppStatusPublished
	apps := []*model.App{
		{Name: "A", PackageName: "com.a", CreatedBy: owner.ID, Status: model.AppStatusDraft},
		{Name: "B", PackageName: "com.b", CreatedBy: owner.ID, AssignedPM: &pm.ID, Status: published},
		{Name: "C", PackageName: "com.c", CreatedBy: other.ID, Status: published},
	}
	for _, a := range apps {
		require.NoError(t, s.Apps().Create(ctx, a))
	}

	all, err := s.Apps().List(ctx, model.AppListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	forPM, err := s.Apps().List(ctx, model.AppListFilter{InvolvedUserID: &pm.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, forPM, 1)
	assert.Equal(t, "com.b", forPM[0].PackageName)

	pub, err := s.Apps().List(ctx, model.AppListFilter{Status: &published, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, pub, 2)

	paged, err := s.Apps().List(ctx, model.AppListFilter{Offset: 2, Limit: 10})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "com.c", paged[0].PackageName)
}

func TestStore_DeleteUserWithApps(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	owner := newUser("owner@example.com")
	pm := newUser("pm@example.com")
	require.NoError(t, s.Users().Create(ctx, owner))
	require.NoError(t, s.Users().Create(ctx, pm))

	app := &model.App{Name: "A", PackageName: "com.a", CreatedBy: owner.ID, AssignedPM: &pm.ID}
	require.NoError(t, s.Apps().Create(ctx, app))

	_, err := s.Users().DeleteByID(ctx, owner.ID)
	assert.True(t, repository.IsForeignKeyViolation(err, repository.ConstraintAppsCreatedBy))

	deleted, err := s.Users().DeleteByID(ctx, pm.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, _ := s.Apps().FindByID(ctx, app.ID)
	assert.Nil(t, got.AssignedPM)

	deleted, err = s.Users().DeleteByID(ctx, 999)
	require.NoError(t, err)
	assert.False(t, deleted)
}
