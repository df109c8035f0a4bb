package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pubadmin/internal/middleware"
)

// APIPrefix は業務APIのパスプレフィックス。
const APIPrefix = "/api/v1"

// healthCheckTimeout はヘルスチェックで依存先を確認する際のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	Authenticator      middleware.Authenticator
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	MetricsRecorder    middleware.HTTPRecorder // nilの場合はメトリクスを記録しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// リソース
	UserService      UserServiceInterface
	AppService       AppServiceInterface
	AnalyticsService AnalyticsServiceInterface
	Pagination       Pagination
	MaxUploadSize    int64

	// API外のエンドポイント
	MetricsHandler http.Handler                    // GET /metrics。nilの場合は公開しない
	UploadsHandler http.Handler                    // GET /uploads/*。nilの場合は公開しない
	HealthCheck    func(ctx context.Context) error // nilの場合は常にhealthy
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS → Metrics
//	  /api/v1/auth/google*: LoginRateLimit
//	  それ以外の/api/v1: Auth → RateLimit(General)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	if deps.MetricsRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.MetricsRecorder))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.Pagination)
	appHandler := NewAppHandler(deps.AppService, deps.Pagination, deps.MaxUploadSize)
	analyticsHandler := NewAnalyticsHandler(deps.AnalyticsService)

	r.Get("/health", healthHandler(deps.HealthCheck))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.UploadsHandler != nil {
		r.Method(http.MethodGet, "/uploads/*", deps.UploadsHandler)
	}

	r.Route(APIPrefix, func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Post("/auth/google", authHandler.GoogleLogin)
			r.Get("/auth/google/login", authHandler.Login)
			r.Get("/auth/google/callback", authHandler.Callback)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.List)
				r.Post("/", userHandler.Create)
				r.Get("/{id}", userHandler.Get)
				r.Put("/{id}", userHandler.Update)
				r.Delete("/{id}", userHandler.Delete)
			})

			r.Route("/apps", func(r chi.Router) {
				r.Get("/", appHandler.List)
				r.Post("/", appHandler.Create)
				r.Get("/{id}", appHandler.Get)
				r.Put("/{id}", appHandler.Update)
				r.Delete("/{id}", appHandler.Delete)
				r.Post("/{id}/upload", appHandler.Upload)
			})

			r.Route("/analytics", func(r chi.Router) {
				r.Get("/overview", analyticsHandler.Overview)
				r.Get("/apps/{id}", analyticsHandler.AppAnalytics)
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/stats", analyticsHandler.DashboardStats)
				r.Get("/charts/{type}", analyticsHandler.Chart)
			})
		})
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler はGET /healthのハンドラーを返す。
func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
	}
}
