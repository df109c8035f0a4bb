package catalog

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/pubadmin/internal/model"
	"github.com/hitoshi/pubadmin/internal/repository/memory"
	"github.com/hitoshi/pubadmin/internal/security"
)

// --- モック ---

type mockBlobStore struct {
	putFn func(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

func (m *mockBlobStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	return m.putFn(ctx, key, body, size, contentType)
}

func (m *mockBlobStore) Delete(context.Context, string) error { return nil }

// --- ヘルパー ---

type fixture struct {
	store     *memory.Store
	svc       *Service
	admin     *model.User
	executive *model.User
	creator   *model.User
	pm        *model.User
	marketing *model.User
	outsider  *model.User
	developer *model.User
	stored    map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{store: store, stored: map[string]string{}}
	mk := func(email string, role model.Role) *model.User {
		u := &model.User{Email: email, FullName: email, Role: role, IsActive: true}
		require.NoError(t, store.Users().Create(context.Background(), u))
		return u
	}
	f.admin = mk("admin@example.com", model.RoleAdmin)
	f.executive = mk("exec@example.com", model.RoleExecutive)
	f.creator = mk("creator@example.com", model.RoleProductManager)
	f.pm = mk("pm@example.com", model.RoleProductManager)
	f.marketing = mk("mkt@example.com", model.RoleMarketingManager)
	f.outsider = mk("outsider@example.com", model.RoleAnalyst)
	f.developer = mk("dev@example.com", model.RoleDeveloper)

	var mu sync.Mutex
	blobs := &mockBlobStore{putFn: func(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		mu.Lock()
		f.stored[key] = string(data)
		mu.Unlock()
		return "/uploads/" + key, nil
	}}
	f.svc = NewService(store, security.NewDescriptionSanitizer(), blobs, UploadLimits{
		MaxSize:           1024,
		AllowedExtensions: []string{".apk", ".ipa", ".png"},
	}, nil)
	return f
}

func (f *fixture) seedApp(t *testing.T, pkg string) *model.App {
	t.Helper()
	app, err := f.svc.Create(context.Background(), f.creator, model.NewAppInput{
		Name:        "App " + pkg,
		PackageName: pkg,
		AppType:     model.AppTypeMobileApp,
		Platform:    model.PlatformAndroid,
	})
	require.NoError(t, err)
	_, err = f.svc.Update(context.Background(), f.admin, app.ID, model.AppPatch{
		AssignedPM:        model.NullableOf(f.pm.ID),
		AssignedMarketing: model.NullableOf(f.marketing.ID),
	})
	require.NoError(t, err)
	return app
}

func errCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func strPtr(s string) *string { return &s }

// --- テスト ---

func TestCreate_Defaults(t *testing.T) {
	f := newFixture(t)

	app, err := f.svc.Create(context.Background(), f.developer, model.NewAppInput{
		Name:        "  Puzzle  ",
		PackageName: "com.example.puzzle",
		Description: strPtr(`<p>Fun</p><script>alert(1)</script>`),
		AppType:     model.AppTypeGame,
		Platform:    model.PlatformIOS,
		Tags:        []string{"casual", " casual ", "", "puzzle"},
		IconURL:     strPtr("https://cdn.example.com/icon.png"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Puzzle", app.Name)
	assert.Equal(t, "1.0.0", app.Version)
	assert.Equal(t, 1, app.BuildNumber)
	assert.Equal(t, model.AppStatusDraft, app.Status)
	assert.False(t, app.IsPublished)
	assert.Equal(t, f.developer.ID, app.CreatedBy)
	require.NotNil(t, app.Description)
	assert.Equal(t, "<p>Fun</p>", *app.Description)
	assert.Equal(t, []string{"casual", "puzzle"}, []string(app.Tags))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	base := model.NewAppInput{Name: "A", PackageName: "com.example.a", AppType: model.AppTypeWebApp, Platform: model.PlatformWeb}

	tests := []struct {
		name   string
		modify func(in *model.NewAppInput)
	}{
		{"empty name", func(in *model.NewAppInput) { in.Name = " " }},
		{"empty package", func(in *model.NewAppInput) { in.PackageName = "" }},
		{"package with space", func(in *model.NewAppInput) { in.PackageName = "com example" }},
		{"unknown type", func(in *model.NewAppInput) { in.AppType = "desktop" }},
		{"unknown platform", func(in *model.NewAppInput) { in.Platform = "symbian" }},
		{"negative build", func(in *model.NewAppInput) { in.BuildNumber = -1 }},
		{"http icon", func(in *model.NewAppInput) { in.IconURL = strPtr("http://cdn.example.com/i.png") }},
		{"internal screenshot", func(in *model.NewAppInput) { in.Screenshots = []string{"https://10.0.0.1/s.png"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.modify(&in)
			_, err := f.svc.Create(context.Background(), f.creator, in)
			assert.Equal(t, model.ErrCodeValidation, errCode(err))
		})
	}
}

// 同じパッケージ名で同時に作成した場合、成功するのは1件のみ。
func TestCreate_ConcurrentDuplicatePackageName(t *testing.T) {
	f := newFixture(t)
	in := model.NewAppInput{Name: "Dup", PackageName: "com.example.dup", AppType: model.AppTypeGame, Platform: model.PlatformAndroid}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(context.Background(), f.creator, in)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, model.ErrCodeDuplicatePackageName, errCode(err))
	}
	assert.Equal(t, 1, succeeded)
}

func TestGet_Permissions(t *testing.T) {
	f := newFixture(t)
	app := f.seedApp(t, "com.example.get")

	for _, u := range []*model.User{f.admin, f.executive, f.creator, f.pm, f.marketing} {
		got, err := f.svc.Get(context.Background(), u, app.ID)
		require.NoError(t, err, u.Email)
		assert.Equal(t, app.ID, got.ID)
	}

	got, err := f.svc.Get(context.Background(), f.outsider, app.ID)
	assert.Nil(t, got)
	assert.Equal(t, model.ErrCodePermissionDenied, errCode(err))

	_, err = f.svc.Get(context.Background(), f.admin, 9999)
	assert.Equal(t, model.ErrCodeAppNotFound, errCode(err))
}

func TestList_FiltersByInvolvement(t *testing.T) {
	f := newFixture(t)
	involved := f.seedApp(t, "com.example.one")
	other, err := f.svc.Create(context.Background(), f.developer, model.NewAppInput{
		Name: "Other", PackageName: "com.example.two", AppType: model.AppTypeGame, Platform: model.PlatformIOS,
	})
	require.NoError(t, err)
	ctx := context.Background()

	all, err := f.svc.List(ctx, f.executive, model.AppListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.List(ctx, f.marketing, model.AppListFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, involved.ID, mine[0].ID)

	none, err := f.svc.List(ctx, f.outsider, model.AppListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, none)

	published := model.AppStatusPublished
	_, err = f.svc.Update(ctx, f.admin, other.ID, model.AppPatch{Status: &published})
	require.NoError(t, err)
	filtered, err := f.svc.List(ctx, f.admin, model.AppListFilter{Status: &published, Limit: 10})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, other.ID, filtered[0].ID)

	bogus := model.AppStatus("launched")
	_, err = f.svc.List(ctx, f.admin, model.AppListFilter{Status: &bogus, Limit: 10})
	assert.Equal(t, model.ErrCodeValidation, errCode(err))
}

func TestUpdate_Permissions(t *testing.T) {
	f := newFixture(t)
	app := f.seedApp(t, "com.example.upd")
	patch := model.AppPatch{Version: strPtr("2.0.0")}

	for _, u := range []*model.User{f.admin, f.executive, f.creator, f.pm} {
		_, err := f.svc.Update(context.Background(), u, app.ID, patch)
		assert.NoError(t, err, u.Email)
	}
	for _, u := range []*model.User{f.marketing, f.outsider, f.developer} {
		_, err := f.svc.Update(context.Background(), u, app.ID, patch)
		assert.Equal(t, model.ErrCodePermissionDenied, errCode(err), u.Email)
	}
}

func TestUpdate_StatusAndPublishing(t *testing.T) {
	f := newFixture(t)
	app := f.seedApp(t, "com.example.pub")
	ctx := context.Background()

	archived := model.AppStatusArchived
	got, err := f.svc.Update(ctx, f.creator, app.ID, model.AppPatch{Status: &archived})
	require.NoError(t, err)
	assert.Equal(t, model.AppStatusArchived, got.Status, "any status can be set directly")
	assert.False(t, got.IsPublished)

	published := model.AppStatusPublished
	got, err = f.svc.Update(ctx, f.creator, app.ID, model.AppPatch{Status: &published})
	require.NoError(t, err)
	assert.True(t, got.IsPublished)
	require.NotNil(t, got.PublishedAt)
	firstPublished := *got.PublishedAt

	suspended := model.AppStatusSuspended
	got, err = f.svc.Update(ctx, f.creator, app.ID, model.AppPatch{Status: &suspended})
	require.NoError(t, err)
	assert.False(t, got.IsPublished)
	assert.Equal(t, firstPublished, *got.PublishedAt)
}

func TestUpdate_FieldsAndAssignments(t *testing.T) {
	f := newFixture(t)
	app := f.seedApp(t, "com.example.fields")
	ctx := context.Background()

	got, err := f.svc.Update(ctx, f.pm, app.ID, model.AppPatch{
		Name:        strPtr("Renamed"),
		Description: model.NullableOf(`<a href="https://example.com" onclick="x()">site</a>`),
		Tags:        []string{},
		Screenshots: []string{"https://cdn.example.com/1.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.NotContains(t, *got.Description, "onclick")
	assert.Empty(t, got.Tags)
	assert.Equal(t, []string{"https://cdn.example.com/1.png"}, []string(got.Screenshots))
	assert.Equal(t, "com.example.fields", got.PackageName)

	missing := int64(9999)
	_, err = f.svc.Update(ctx, f.admin, app.ID, model.AppPatch{AssignedPM: model.NullableOf(missing)})
	assert.Equal(t, model.ErrCodeValidation, errCode(err))

	zero := 0
	_, err = f.svc.Update(ctx, f.admin, app.ID, model.AppPatch{BuildNumber: &zero})
	assert.Equal(t, model.ErrCodeValidation, errCode(err))

	_, err = f.svc.Update(ctx, f.admin, 9999, model.AppPatch{Name: strPtr("x")})
	assert.Equal(t, model.ErrCodeAppNotFound, errCode(err))
}

func TestUpdate_ExplicitNullClearsOptionalFields(t *testing.T) {
	f := newFixture(t)
	app := f.seedApp(t, "com.example.unassign")
	ctx := context.Background()

	got, err := f.svc.Update(ctx, f.creator, app.ID, model.AppPatch{
		Category:       model.NullableOf("puzzle"),
		TargetAudience: model.NullableOf("kids"),
	})
	require.NoError(t, err)
	require.NotNil(t, got.Category)
	require.NotNil(t, got.AssignedPM)

	got, err = f.svc.Update(ctx, f.creator, app.ID, model.AppPatch{
		AssignedPM: model.Null[int64](),
		Category:   model.Null[string](),
	})
	require.NoError(t, err)
	assert.Nil(t, got.AssignedPM)
	assert.Nil(t, got.Category)
	require.NotNil(t, got.TargetAudience, "unset fields are kept")
	assert.Equal(t, "kids", *got.TargetAudience)
	require.NotNil(t, got.AssignedMarketing)
	assert.Equal(t, f.marketing.ID, *got.AssignedMarketing)

	// 割り当てを外されたPMは関係者ではなくなる
	_, err = f.svc.Get(ctx, f.pm, app.ID)
	assert.Equal(t, model.ErrCodePermissionDenied, errCode(err))
	_, err = f.svc.Get(ctx, f.marketing, app.ID)
	assert.NoError(t, err)
}

func TestDelete_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.seedApp(t, "com.example.del")

	for _, u := range []*model.User{f.executive, f.pm, f.marketing, f.outsider} {
		assert.Equal(t, model.ErrCodePermissionDenied, errCode(f.svc.Delete(ctx, u, app.ID)), u.Email)
	}
	require.NoError(t, f.svc.Delete(ctx, f.creator, app.ID))
	assert.Equal(t, model.ErrCodeAppNotFound, errCode(f.svc.Delete(ctx, f.admin, app.ID)))

	other := f.seedApp(t, "com.example.del2")
	require.NoError(t, f.svc.Delete(ctx, f.admin, other.ID))
}

func TestUpload(t *testing.T) {
	f := newFixture(t)
	app := f.seedApp(t, "com.example.upload")
	ctx := context.Background()

	file, err := f.svc.Upload(ctx, f.developer, app.ID, UploadInput{
		Filename:    "build.APK",
		Size:        5,
		ContentType: "application/vnd.android.package-archive",
		Body:        strings.NewReader("bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, app.ID, file.AppID)
	assert.Equal(t, "build.APK", file.Filename)
	assert.Equal(t, "/uploads/"+file.Key, file.URL)
	assert.Equal(t, "bytes", f.stored[file.Key])

	_, err = f.svc.Upload(ctx, f.creator, app.ID, UploadInput{Filename: "notes.exe", Size: 1, Body: strings.NewReader("x")})
	assert.Equal(t, model.ErrCodeUnsupportedFileType, errCode(err))

	_, err = f.svc.Upload(ctx, f.creator, app.ID, UploadInput{Filename: "big.ipa", Size: 2048, Body: strings.NewReader("x")})
	assert.Equal(t, model.ErrCodeFileTooLarge, errCode(err))

	_, err = f.svc.Upload(ctx, f.pm, app.ID, UploadInput{Filename: "a.apk", Size: 1, Body: strings.NewReader("x")})
	assert.Equal(t, model.ErrCodePermissionDenied, errCode(err))

	_, err = f.svc.Upload(ctx, f.admin, 9999, UploadInput{Filename: "a.apk", Size: 1, Body: strings.NewReader("x")})
	assert.Equal(t, model.ErrCodeAppNotFound, errCode(err))
}
