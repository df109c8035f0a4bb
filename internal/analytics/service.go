// Package analytics は分析サマリとダッシュボード統計を提供する。
// 値はSourceから取得し、Cacheに一定時間保持する。
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pubadmin/internal/cache"
	"github.com/hitoshi/pubadmin/internal/model"
	"github.com/hitoshi/pubadmin/internal/policy"
	"github.com/hitoshi/pubadmin/internal/repository"
)

// DefaultPeriod は期間未指定時の集計日数。
const DefaultPeriod = 30 * 24 * time.Hour

// Service は分析データの参照を提供する。
type Service struct {
	store  repository.Store
	source Source
	cache  cache.Cache
	ttl    time.Duration
	denied policy.DenialRecorder
	now    func() time.Time
}

// Option はServiceのオプション設定。
type Option func(*Service)

// WithCache はキャッシュと保持期間を設定する。
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithDenialRecorder は権限拒否の記録先を設定する。
func WithDenialRecorder(d policy.DenialRecorder) Option {
	return func(s *Service) { s.denied = d }
}

// WithClock は時刻取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService はServiceを生成する。
func NewService(store repository.Store, source Source, opts ...Option) *Service {
	s := &Service{
		store:  store,
		source: source,
		cache:  cache.NopCache{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Overview は全アプリ横断の分析サマリを返す。
// start・endが未指定の場合は直近30日間を対象とする。
func (s *Service) Overview(ctx context.Context, actor *model.User, start, end *time.Time) (*model.AnalyticsOverview, error) {
	if !s.allow(actor, policy.KindAnalyticsOverview) {
		return nil, model.NewPermissionDeniedError()
	}

	period := model.AnalyticsPeriod{EndDate: s.now()}
	if end != nil {
		period.EndDate = *end
	}
	period.StartDate = period.EndDate.Add(-DefaultPeriod)
	if start != nil {
		period.StartDate = *start
	}
	if period.StartDate.After(period.EndDate) {
		return nil, model.NewValidationError("start_dateはend_date以前を指定してください")
	}

	key := fmt.Sprintf("analytics:overview:%d:%d", period.StartDate.Unix(), period.EndDate.Unix())
	return cached(ctx, s, key, func() (*model.AnalyticsOverview, error) {
		return s.source.Overview(ctx, period)
	})
}

// AppAnalytics はアプリ単位の分析値を返す。アプリが存在しない場合はAPP_NOT_FOUNDを返す。
func (s *Service) AppAnalytics(ctx context.Context, actor *model.User, appID int64) (*model.AppAnalytics, error) {
	if !s.allow(actor, policy.KindAppAnalytics) {
		return nil, model.NewPermissionDeniedError()
	}

	app, err := s.store.Apps().FindByID(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to find app: %w", err)
	}
	if app == nil {
		return nil, model.NewAppNotFoundError(appID)
	}

	return cached(ctx, s, fmt.Sprintf("analytics:app:%d", appID), func() (*model.AppAnalytics, error) {
		return s.source.AppAnalytics(ctx, appID)
	})
}

// DashboardStats はダッシュボードの統計値を返す。
func (s *Service) DashboardStats(ctx context.Context, actor *model.User) (*model.DashboardStats, error) {
	if !s.allow(actor, policy.KindDashboard) {
		return nil, model.NewPermissionDeniedError()
	}
	return cached(ctx, s, "dashboard:stats", func() (*model.DashboardStats, error) {
		return s.source.DashboardStats(ctx)
	})
}

// Chart はダッシュボードのチャート系列を返す。未知の種別はCHART_NOT_FOUNDを返す。
func (s *Service) Chart(ctx context.Context, actor *model.User, chartType string) ([]model.ChartPoint, error) {
	if !s.allow(actor, policy.KindDashboard) {
		return nil, model.NewPermissionDeniedError()
	}

	points, err := cached(ctx, s, "dashboard:chart:"+chartType, func() ([]model.ChartPoint, error) {
		return s.source.Chart(ctx, model.ChartType(chartType))
	})
	if err != nil {
		return nil, err
	}
	if points == nil {
		return nil, model.NewChartNotFoundError(chartType)
	}
	return points, nil
}

func (s *Service) allow(actor *model.User, kind policy.ResourceKind) bool {
	if policy.Allow(actor, policy.Resource{Kind: kind}, policy.ActionRead, false) {
		return true
	}
	if s.denied != nil {
		s.denied.RecordDenial(kind, policy.ActionRead)
	}
	return false
}

// cached はキャッシュにあればそれを返し、なければloadの結果を保存して返す。
// キャッシュの障害はログに出力して無視する。nilの結果は保存しない。
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	var zero T

	if raw, found, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("analytics cache get failed", slog.String("key", key), slog.String("error", err.Error()))
	} else if found {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		slog.Warn("analytics cache entry is corrupted", slog.String("key", key))
	}

	v, err := load()
	if err != nil {
		return zero, fmt.Errorf("failed to load %s: %w", key, err)
	}

	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return v, nil
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		slog.Warn("analytics cache set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return v, nil
}
