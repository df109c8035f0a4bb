package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/hitoshi/pubadmin/internal/model"
)

var (
	// ErrInvalidIdentityToken はIDトークンが検証に失敗したことを表す。
	ErrInvalidIdentityToken = errors.New("invalid identity token")
	// ErrIdentityProviderUnavailable はIdPの公開鍵を取得できなかったことを表す。再試行可能。
	ErrIdentityProviderUnavailable = errors.New("identity provider unavailable")
)

// IdentityVerifier は外部IdPが発行したIDトークンを検証し、本人情報を取り出す。
type IdentityVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*model.IdentityClaim, error)
}

// GoogleVerifierConfig はGoogle IDトークン検証の設定。
type GoogleVerifierConfig struct {
	ClientID string
	Issuer   string
	JWKSURL  string
	Timeout  time.Duration

	// テスト用に差し替え可能
	HTTPClient *http.Client
	Now        func() time.Time
}

// GoogleIDTokenVerifier はGoogleのJWKSを使ってIDトークンを検証する。
// 公開鍵はキャッシュされ、未知のkidのトークンを受け取った時点で再取得される。
type GoogleIDTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
	timeout  time.Duration
}

// NewGoogleIDTokenVerifier はGoogleIDTokenVerifierを生成する。
// この時点ではJWKSの取得は行わない。
func NewGoogleIDTokenVerifier(cfg GoogleVerifierConfig) (*GoogleIDTokenVerifier, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("google client id is required")
	}
	if cfg.Issuer == "" || cfg.JWKSURL == "" {
		return nil, errors.New("google issuer and jwks url are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	// 鍵取得はRemoteKeySet生成時のコンテキストで行われるため、HTTPクライアント側にもタイムアウトを持たせる
	keySetCtx := oidc.ClientContext(context.Background(), client)
	keySet := &classifyingKeySet{inner: oidc.NewRemoteKeySet(keySetCtx, cfg.JWKSURL)}

	verifier := oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{
		ClientID: cfg.ClientID,
		Now:      cfg.Now,
	})

	return &GoogleIDTokenVerifier{verifier: verifier, timeout: cfg.Timeout}, nil
}

// googleClaims はGoogle IDトークンのうち利用するクレーム。
// email_verifiedは真偽値または文字列で届くことがある。
type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Verify はIDトークンを検証して本人情報を返す。
// 署名・有効期限・audience・issuerのいずれかが不正、またはメールアドレスが未検証の場合は
// ErrInvalidIdentityTokenを、IdPに到達できない場合はErrIdentityProviderUnavailableを返す。
func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, rawIDToken string) (*model.IdentityClaim, error) {
	if strings.TrimSpace(rawIDToken) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidIdentityToken)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	failures := &fetchFailures{}
	ctx = context.WithValue(ctx, fetchFailuresKey{}, failures)

	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		if ferr := failures.get(); ferr != nil {
			return nil, fmt.Errorf("%w: %v", ErrIdentityProviderUnavailable, ferr)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentityToken, err)
	}

	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentityToken, err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: email claim is missing", ErrInvalidIdentityToken)
	}
	if !emailVerified(claims.EmailVerified) {
		return nil, fmt.Errorf("%w: email is not verified", ErrInvalidIdentityToken)
	}

	return &model.IdentityClaim{
		Email:   strings.ToLower(claims.Email),
		Subject: idToken.Subject,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

// emailVerified はemail_verifiedクレームを解釈する。クレームが無い場合は検証済みとみなさない。
func emailVerified(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(val, "true")
	}
	return false
}

// go-oidcは鍵取得の失敗を文字列化して返すため、呼び出しごとにKeySetの層で失敗を記録し、
// 一時的な障害とトークン不正を区別する。
type fetchFailuresKey struct{}

type fetchFailures struct {
	mu  sync.Mutex
	err error
}

func (f *fetchFailures) record(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *fetchFailures) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

type classifyingKeySet struct {
	inner oidc.KeySet
}

func (k *classifyingKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	payload, err := k.inner.VerifySignature(ctx, jwt)
	if err != nil && isTransientFetchError(err) {
		if f, ok := ctx.Value(fetchFailuresKey{}).(*fetchFailures); ok {
			f.record(err)
		}
	}
	return payload, err
}

// isTransientFetchError は鍵取得の失敗がネットワーク障害・タイムアウト・IdP側のエラー応答によるものかを返す。
func isTransientFetchError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "get keys failed")
}

// compile-time interface check
var (
	_ IdentityVerifier = (*GoogleIDTokenVerifier)(nil)
	_ oidc.KeySet      = (*classifyingKeySet)(nil)
)
