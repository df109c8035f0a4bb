package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Redis（未設定の場合は分析キャッシュを無効化する）
	RedisURL          string        `env:"REDIS_URL"`
	AnalyticsCacheTTL time.Duration `env:"ANALYTICS_CACHE_TTL" envDefault:"5m"`

	// Google Identity
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string        `env:"GOOGLE_REDIRECT_URL"`
	GoogleIssuer       string        `env:"GOOGLE_ISSUER" envDefault:"https://accounts.google.com"`
	GoogleJWKSURL      string        `env:"GOOGLE_JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	IdentityTimeout    time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"5s"`

	// Session token
	JWTSecret     string        `env:"JWT_SECRET,required,notEmpty"`
	JWTAlgorithm  string        `env:"JWT_ALGORITHM" envDefault:"HS256"`
	JWTExpiration time.Duration `env:"JWT_EXPIRATION" envDefault:"24h"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`

	// Upload
	UploadDir               string   `env:"UPLOAD_DIR" envDefault:"uploads"`
	UploadMaxSize           int64    `env:"UPLOAD_MAX_SIZE" envDefault:"104857600"`
	UploadAllowedExtensions []string `env:"UPLOAD_ALLOWED_EXTENSIONS" envSeparator:"," envDefault:".apk,.ipa,.aab,.zip,.png,.jpg,.jpeg"`

	// Storage
	StorageBackend    string `env:"STORAGE_BACKEND" envDefault:"local"`
	S3Bucket          string `env:"S3_BUCKET"`
	S3Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`

	// Pagination
	DefaultPageSize int `env:"DEFAULT_PAGE_SIZE" envDefault:"20"`
	MaxPageSize     int `env:"MAX_PAGE_SIZE" envDefault:"100"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// サポートするセッショントークンの署名アルゴリズム。
var supportedAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は値の組み合わせを検証する。
func (c *Config) validate() error {
	var errs []error

	c.JWTAlgorithm = strings.ToUpper(c.JWTAlgorithm)
	if !supportedAlgorithms[c.JWTAlgorithm] {
		errs = append(errs, fmt.Errorf("JWT_ALGORITHM must be one of HS256, HS384, HS512: %q", c.JWTAlgorithm))
	}
	if c.JWTExpiration <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRATION must be positive"))
	}
	if c.IdentityTimeout <= 0 {
		errs = append(errs, errors.New("IDENTITY_TIMEOUT must be positive"))
	}
	if c.DefaultPageSize < 1 || c.MaxPageSize < 1 || c.DefaultPageSize > c.MaxPageSize {
		errs = append(errs, fmt.Errorf("page size must satisfy 1 <= DEFAULT_PAGE_SIZE (%d) <= MAX_PAGE_SIZE (%d)", c.DefaultPageSize, c.MaxPageSize))
	}
	if c.UploadMaxSize <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_SIZE must be positive"))
	}
	if c.RateLimitGeneral < 1 || c.RateLimitLogin < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_GENERAL and RATE_LIMIT_LOGIN must be positive"))
	}

	switch c.StorageBackend {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required when STORAGE_BACKEND=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be local or s3: %q", c.StorageBackend))
	}

	for i, ext := range c.UploadAllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.UploadAllowedExtensions[i] = ext
	}

	return errors.Join(errs...)
}

// OAuthCodeFlowEnabled はブラウザ向けOAuthコードフローの設定が揃っているかを返す。
func (c *Config) OAuthCodeFlowEnabled() bool {
	return c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}
