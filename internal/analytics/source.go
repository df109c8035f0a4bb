package analytics

import (
	"context"

	"github.com/hitoshi/pubadmin/internal/model"
)

// Source は分析値の供給元。集計エンジンを接続する差し替え点。
type Source interface {
	Overview(ctx context.Context, period model.AnalyticsPeriod) (*model.AnalyticsOverview, error)
	AppAnalytics(ctx context.Context, appID int64) (*model.AppAnalytics, error)
	DashboardStats(ctx context.Context) (*model.DashboardStats, error)
	// Chart は月別の系列を返す。未知の種別の場合はnilを返す。
	Chart(ctx context.Context, chartType model.ChartType) ([]model.ChartPoint, error)
}

// FixedSource は固定値を返すSource実装。
type FixedSource struct{}

// Overview は全アプリ横断の固定サマリを返す。
func (FixedSource) Overview(_ context.Context, period model.AnalyticsPeriod) (*model.AnalyticsOverview, error) {
	return &model.AnalyticsOverview{
		TotalUsers:     125000,
		TotalRevenue:   85000,
		TotalDownloads: 2500000,
		AvgRating:      4.3,
		Period:         period,
	}, nil
}

// AppAnalytics はアプリ単位の固定値を返す。
func (FixedSource) AppAnalytics(_ context.Context, appID int64) (*model.AppAnalytics, error) {
	return &model.AppAnalytics{
		AppID:              appID,
		DailyActiveUsers:   15000,
		MonthlyActiveUsers: 45000,
		Revenue:            12000,
		Downloads:          350000,
		Rating:             4.5,
		RetentionRate:      0.65,
	}, nil
}

// DashboardStats はダッシュボードの固定統計値を返す。
func (FixedSource) DashboardStats(context.Context) (*model.DashboardStats, error) {
	return &model.DashboardStats{
		TotalApps:      24,
		PublishedApps:  18,
		TotalRevenue:   125000,
		TotalUsers:     45000,
		TotalDownloads: 1200000,
		AvgRating:      4.3,
		GrowthRate:     12.5,
	}, nil
}

var fixedCharts = map[model.ChartType][]model.ChartPoint{
	model.ChartRevenue: {
		{Month: "Jan", Value: 45000},
		{Month: "Feb", Value: 52000},
		{Month: "Mar", Value: 48000},
		{Month: "Apr", Value: 61000},
		{Month: "May", Value: 75000},
		{Month: "Jun", Value: 68000},
	},
	model.ChartUsers: {
		{Month: "Jan", Value: 12000},
		{Month: "Feb", Value: 15000},
		{Month: "Mar", Value: 14000},
		{Month: "Apr", Value: 18000},
		{Month: "May", Value: 22000},
		{Month: "Jun", Value: 20000},
	},
}

// Chart は固定の6か月分の系列を返す。
func (FixedSource) Chart(_ context.Context, chartType model.ChartType) ([]model.ChartPoint, error) {
	points, ok := fixedCharts[chartType]
	if !ok {
		return nil, nil
	}
	return append([]model.ChartPoint(nil), points...), nil
}

// compile-time interface check
var _ Source = FixedSource{}
