package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/pubadmin/internal/model"
	"github.com/hitoshi/pubadmin/internal/policy"
	"github.com/hitoshi/pubadmin/internal/repository/memory"
)

// --- モック ---

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.ttls[key] = ttl
	return nil
}

type countingSource struct {
	FixedSource
	dashboardCalls int
	dashboardErr   error
}

func (s *countingSource) DashboardStats(ctx context.Context) (*model.DashboardStats, error) {
	s.dashboardCalls++
	if s.dashboardErr != nil {
		return nil, s.dashboardErr
	}
	return s.FixedSource.DashboardStats(ctx)
}

type mockDenialRecorder struct {
	kinds []policy.ResourceKind
}

func (m *mockDenialRecorder) RecordDenial(kind policy.ResourceKind, _ policy.Action) {
	m.kinds = append(m.kinds, kind)
}

// --- ヘルパー ---

var fixedNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func actor(role model.Role) *model.User {
	return &model.User{ID: 1, Email: string(role) + "@example.com", Role: role, IsActive: true}
}

func errCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// --- テスト ---

func TestOverview_DefaultPeriod(t *testing.T) {
	svc := NewService(memory.NewStore(), FixedSource{}, WithClock(func() time.Time { return fixedNow }))

	got, err := svc.Overview(context.Background(), actor(model.RoleAnalyst), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(125000), got.TotalUsers)
	assert.Equal(t, 4.3, got.AvgRating)
	assert.Equal(t, fixedNow, got.Period.EndDate)
	assert.Equal(t, fixedNow.Add(-30*24*time.Hour), got.Period.StartDate)
}

func TestOverview_ExplicitPeriod(t *testing.T) {
	svc := NewService(memory.NewStore(), FixedSource{}, WithClock(func() time.Time { return fixedNow }))
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	got, err := svc.Overview(context.Background(), actor(model.RoleExecutive), &start, &end)
	require.NoError(t, err)
	assert.Equal(t, start, got.Period.StartDate)
	assert.Equal(t, end, got.Period.EndDate)

	_, err = svc.Overview(context.Background(), actor(model.RoleExecutive), &end, &start)
	assert.Equal(t, model.ErrCodeValidation, errCode(err))
}

func TestOverview_RoleGate(t *testing.T) {
	denied := &mockDenialRecorder{}
	svc := NewService(memory.NewStore(), FixedSource{}, WithDenialRecorder(denied))

	tests := []struct {
		role    model.Role
		allowed bool
	}{
		{model.RoleAdmin, true},
		{model.RoleExecutive, true},
		{model.RoleAnalyst, true},
		{model.RoleProductManager, false},
		{model.RoleDeveloper, false},
		{model.RoleMarketingManager, false},
		{model.RoleBusinessManager, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			_, err := svc.Overview(context.Background(), actor(tt.role), nil, nil)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, model.ErrCodePermissionDenied, errCode(err))
			}
		})
	}
	assert.Len(t, denied.kinds, 4)
}

func TestAppAnalytics(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	owner := &model.User{Email: "dev@example.com", FullName: "Dev", Role: model.RoleDeveloper, IsActive: true}
	require.NoError(t, store.Users().Create(ctx, owner))
	app := &model.App{Name: "A", PackageName: "com.example.a", AppType: model.AppTypeGame,
		Platform: model.PlatformIOS, Version: "1.0", Status: model.AppStatusDraft, CreatedBy: owner.ID}
	require.NoError(t, store.Apps().Create(ctx, app))

	svc := NewService(store, FixedSource{})

	got, err := svc.AppAnalytics(ctx, actor(model.RoleProductManager), app.ID)
	require.NoError(t, err)
	assert.Equal(t, app.ID, got.AppID)
	assert.Equal(t, 0.65, got.RetentionRate)

	_, err = svc.AppAnalytics(ctx, actor(model.RoleAnalyst), 9999)
	assert.Equal(t, model.ErrCodeAppNotFound, errCode(err))

	_, err = svc.AppAnalytics(ctx, actor(model.RoleDeveloper), app.ID)
	assert.Equal(t, model.ErrCodePermissionDenied, errCode(err))
}

func TestDashboardStats_Cached(t *testing.T) {
	c := newMapCache()
	src := &countingSource{}
	svc := NewService(memory.NewStore(), src, WithCache(c, 5*time.Minute))
	ctx := context.Background()

	for range 3 {
		got, err := svc.DashboardStats(ctx, actor(model.RoleDeveloper))
		require.NoError(t, err)
		assert.Equal(t, int64(24), got.TotalApps)
		assert.Equal(t, 12.5, got.GrowthRate)
	}
	assert.Equal(t, 1, src.dashboardCalls)
	assert.Equal(t, 5*time.Minute, c.ttls["dashboard:stats"])
}

func TestDashboardStats_CacheFailureFallsBackToSource(t *testing.T) {
	c := newMapCache()
	c.getErr = errors.New("connection refused")
	src := &countingSource{}
	svc := NewService(memory.NewStore(), src, WithCache(c, time.Minute))

	_, err := svc.DashboardStats(context.Background(), actor(model.RoleAnalyst))
	require.NoError(t, err)
	_, err = svc.DashboardStats(context.Background(), actor(model.RoleAnalyst))
	require.NoError(t, err)
	assert.Equal(t, 2, src.dashboardCalls)
}

func TestDashboardStats_SourceError(t *testing.T) {
	src := &countingSource{dashboardErr: errors.New("warehouse down")}
	svc := NewService(memory.NewStore(), src)

	_, err := svc.DashboardStats(context.Background(), actor(model.RoleAdmin))
	assert.ErrorIs(t, err, src.dashboardErr)
}

func TestChart(t *testing.T) {
	c := newMapCache()
	svc := NewService(memory.NewStore(), FixedSource{}, WithCache(c, time.Minute))
	ctx := context.Background()

	revenue, err := svc.Chart(ctx, actor(model.RoleDeveloper), "revenue")
	require.NoError(t, err)
	require.Len(t, revenue, 6)
	assert.Equal(t, model.ChartPoint{Month: "Jan", Value: 45000}, revenue[0])
	assert.Equal(t, model.ChartPoint{Month: "Jun", Value: 68000}, revenue[5])

	users, err := svc.Chart(ctx, actor(model.RoleDeveloper), "users")
	require.NoError(t, err)
	assert.Len(t, users, 6)

	cachedRevenue, err := svc.Chart(ctx, actor(model.RoleDeveloper), "revenue")
	require.NoError(t, err)
	assert.Equal(t, revenue, cachedRevenue)

	_, err = svc.Chart(ctx, actor(model.RoleDeveloper), "unknown")
	assert.Equal(t, model.ErrCodeChartNotFound, errCode(err))
	assert.NotContains(t, c.entries, "dashboard:chart:unknown")
}

func TestDashboard_InactiveActorDenied(t *testing.T) {
	svc := NewService(memory.NewStore(), FixedSource{})
	inactive := actor(model.RoleAdmin)
	inactive.IsActive = false

	_, err := svc.DashboardStats(context.Background(), inactive)
	assert.Equal(t, model.ErrCodePermissionDenied, errCode(err))
}
