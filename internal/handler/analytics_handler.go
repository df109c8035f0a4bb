package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pubadmin/internal/middleware"
	"github.com/hitoshi/pubadmin/internal/model"
)

// AnalyticsServiceInterface は分析・ダッシュボードハンドラーが必要とするサービスインターフェース。
type AnalyticsServiceInterface interface {
	Overview(ctx context.Context, actor *model.User, start, end *time.Time) (*model.AnalyticsOverview, error)
	AppAnalytics(ctx context.Context, actor *model.User, appID int64) (*model.AppAnalytics, error)
	DashboardStats(ctx context.Context, actor *model.User) (*model.DashboardStats, error)
	Chart(ctx context.Context, actor *model.User, chartType string) ([]model.ChartPoint, error)
}

// AnalyticsHandler は分析とダッシュボードのHTTPハンドラー。
type AnalyticsHandler struct {
	service AnalyticsServiceInterface
}

// NewAnalyticsHandler はAnalyticsHandlerを生成する。
func NewAnalyticsHandler(service AnalyticsServiceInterface) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// 受け付ける日付形式。日付のみの場合はUTCの0時として扱う。
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Overview は全アプリ横断の分析サマリを返す。
// GET /analytics/overview?start_date=2025-01-01&end_date=2025-01-31
func (h *AnalyticsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	start, ok := parseDateParam(w, r, "start_date")
	if !ok {
		return
	}
	end, ok := parseDateParam(w, r, "end_date")
	if !ok {
		return
	}

	overview, err := h.service.Overview(r.Context(), actor, start, end)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// AppAnalytics はアプリ単位の分析値を返す。
// GET /analytics/apps/{id}
func (h *AnalyticsHandler) AppAnalytics(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.AppAnalytics(r.Context(), actor, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// DashboardStats はダッシュボードの統計値を返す。
// GET /dashboard/stats
func (h *AnalyticsHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	stats, err := h.service.DashboardStats(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Chart はチャート系列を返す。各要素は {"month": "Jan", "<type>": 値} の形式。
// GET /dashboard/charts/{type}
func (h *AnalyticsHandler) Chart(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	chartType := chi.URLParam(r, "type")

	points, err := h.service.Chart(r.Context(), actor, chartType)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]map[string]any, 0, len(points))
	for _, p := range points {
		resp = append(resp, map[string]any{
			"month":   p.Month,
			chartType: p.Value,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseDateParam はクエリの日付パラメータを解析する。未指定の場合はnilを返す。
func parseDateParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, true
		}
	}
	middleware.WriteErrorResponse(w, http.StatusBadRequest,
		model.NewValidationError(name+"はISO 8601形式（例: 2025-01-31）で指定してください"))
	return nil, false
}
