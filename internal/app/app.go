// Package app はアプリケーションの初期化と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/pubadmin/internal/analytics"
	"github.com/hitoshi/pubadmin/internal/auth"
	"github.com/hitoshi/pubadmin/internal/cache"
	"github.com/hitoshi/pubadmin/internal/catalog"
	"github.com/hitoshi/pubadmin/internal/config"
	"github.com/hitoshi/pubadmin/internal/database"
	"github.com/hitoshi/pubadmin/internal/handler"
	"github.com/hitoshi/pubadmin/internal/logger"
	"github.com/hitoshi/pubadmin/internal/metrics"
	"github.com/hitoshi/pubadmin/internal/middleware"
	"github.com/hitoshi/pubadmin/internal/repository"
	"github.com/hitoshi/pubadmin/internal/security"
	"github.com/hitoshi/pubadmin/internal/storage"
	"github.com/hitoshi/pubadmin/internal/user"
)

// uploadsPrefix はローカル保存したファイルを公開するパス。
const uploadsPrefix = "/uploads"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, nil)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Components はワイヤリング済みのHTTPハンドラーと、終了時に解放するリソース。
type Components struct {
	Handler http.Handler
	closers []func()
}

// Close はComponentsが保持するリソースを解放する。
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Build は設定とストアから全依存関係をワイヤリングし、ルーターを構築する。
// healthCheckはGET /healthで呼び出される依存先の確認処理。
func Build(ctx context.Context, cfg *config.Config, store repository.Store, healthCheck func(ctx context.Context) error) (*Components, error) {
	c := &Components{}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. 認証
	verifier, err := auth.NewGoogleIDTokenVerifier(auth.GoogleVerifierConfig{
		ClientID: cfg.GoogleClientID,
		Issuer:   cfg.GoogleIssuer,
		JWKSURL:  cfg.GoogleJWKSURL,
		Timeout:  cfg.IdentityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity verifier: %w", err)
	}
	issuer, err := auth.NewSessionIssuer(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to create session issuer: %w", err)
	}
	authOpts := []auth.Option{auth.WithLoginObserver(collector)}
	if cfg.OAuthCodeFlowEnabled() {
		authOpts = append(authOpts, auth.WithOAuthProvider(auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})))
	}
	authService := auth.NewService(verifier, issuer, store, authOpts...)

	// 3. 分析キャッシュ（Redis未設定または接続不可の場合は無効）
	var analyticsCache cache.Cache = cache.NopCache{}
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, analytics cache disabled", slog.String("error", err.Error()))
		} else {
			analyticsCache = cache.NewRedisCache(client, "")
			c.closers = append(c.closers, func() { client.Close() })
			slog.Info("analytics cache enabled", slog.Duration("ttl", cfg.AnalyticsCacheTTL))
		}
	}

	// 4. アップロード先
	var blobs storage.BlobStore
	var uploads http.Handler
	switch cfg.StorageBackend {
	case "s3":
		s3Store, err := storage.NewS3Store(storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create s3 store: %w", err)
		}
		blobs = s3Store
	default:
		local, err := storage.NewLocalStore(cfg.UploadDir, uploadsPrefix)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create local store: %w", err)
		}
		blobs = local
		uploads = http.StripPrefix(uploadsPrefix+"/", http.FileServer(http.Dir(local.Root())))
	}

	// 5. ドメインサービス
	userService := user.NewService(store, collector)
	appService := catalog.NewService(store, security.NewDescriptionSanitizer(), blobs, catalog.UploadLimits{
		MaxSize:           cfg.UploadMaxSize,
		AllowedExtensions: cfg.UploadAllowedExtensions,
	}, collector)
	analyticsService := analytics.NewService(store, analytics.FixedSource{},
		analytics.WithCache(analyticsCache, cfg.AnalyticsCacheTTL),
		analytics.WithDenialRecorder(collector),
	)

	// 6. ルーター
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	c.closers = append(c.closers, limiter.Stop)

	c.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:             slog.Default(),
		Authenticator:      authService,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		MetricsRecorder:    collector,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieSecure: isHTTPS(cfg.BaseURL),
		},

		UserService:      userService,
		AppService:       appService,
		AnalyticsService: analyticsService,
		Pagination: handler.Pagination{
			DefaultLimit: cfg.DefaultPageSize,
			MaxLimit:     cfg.MaxPageSize,
		},
		MaxUploadSize: cfg.UploadMaxSize,

		MetricsHandler: metrics.Handler(reg),
		UploadsHandler: uploads,
		HealthCheck:    healthCheck,
	})

	return c, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. ワイヤリング
	components, err := Build(ctx, cfg, repository.NewPostgresStore(db), db.PingContext)
	if err != nil {
		return err
	}
	defer components.Close()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           components.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute, // アップロードを考慮
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// downが正の場合はその数だけ直近のマイグレーションを戻す。
func runMigrate(cfg *config.Config, down int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("down", down),
	)

	if down > 0 {
		if err := database.RollbackMigrations(cfg.DatabaseURL, down); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	} else if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// defaultPort はSERVER_PORTが未設定の場合に8080を返す。
func defaultPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https"
}
