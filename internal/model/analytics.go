package model

import "time"

// AnalyticsPeriod は集計対象期間を表す。
type AnalyticsPeriod struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// AnalyticsOverview は全アプリ横断の分析サマリ。
type AnalyticsOverview struct {
	TotalUsers     int64           `json:"total_users"`
	TotalRevenue   float64         `json:"total_revenue"`
	TotalDownloads int64           `json:"total_downloads"`
	AvgRating      float64         `json:"avg_rating"`
	Period         AnalyticsPeriod `json:"period"`
}

// AppAnalytics はアプリ単位の分析値。
type AppAnalytics struct {
	AppID              int64   `json:"app_id"`
	DailyActiveUsers   int64   `json:"daily_active_users"`
	MonthlyActiveUsers int64   `json:"monthly_active_users"`
	Revenue            float64 `json:"revenue"`
	Downloads          int64   `json:"downloads"`
	Rating             float64 `json:"rating"`
	RetentionRate      float64 `json:"retention_rate"`
}

// DashboardStats はダッシュボード上部に表示する統計値。
type DashboardStats struct {
	TotalApps      int64   `json:"total_apps"`
	PublishedApps  int64   `json:"published_apps"`
	TotalRevenue   float64 `json:"total_revenue"`
	TotalUsers     int64   `json:"total_users"`
	TotalDownloads int64   `json:"total_downloads"`
	AvgRating      float64 `json:"avg_rating"`
	GrowthRate     float64 `json:"growth_rate"`
}

// ChartType はダッシュボードのチャート種別。
type ChartType string

const (
	ChartRevenue ChartType = "revenue"
	ChartUsers   ChartType = "users"
)

// ChartPoint はチャートの1点。Metricはチャート種別と同名のJSONキーで出力される。
type ChartPoint struct {
	Month string
	Value int64
}
