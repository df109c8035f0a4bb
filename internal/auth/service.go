// Package auth はGoogle IDトークンの検証、ステートレスなセッショントークンの発行、
// ログインとベアラートークンからの利用者解決を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pubadmin/internal/directory"
	"github.com/hitoshi/pubadmin/internal/model"
	"github.com/hitoshi/pubadmin/internal/repository"
)

// ログイン結果のラベル
const (
	LoginOutcomeSuccess     = "success"
	LoginOutcomeInvalid     = "invalid_token"
	LoginOutcomeUnavailable = "provider_unavailable"
	LoginOutcomeInactive    = "inactive"
	LoginOutcomeError       = "error"
)

// LoginObserver はログイン結果を記録する。
type LoginObserver interface {
	ObserveLogin(outcome string)
}

// LoginResult はログイン成功時の応答。
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	User        *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	verifier IdentityVerifier
	issuer   *SessionIssuer
	store    repository.Store
	oauth    OAuthProvider
	observer LoginObserver
	now      func() time.Time
}

// Option はServiceのオプション設定。
type Option func(*Service)

// WithOAuthProvider はブラウザ向けコードフローのプロバイダーを設定する。
func WithOAuthProvider(p OAuthProvider) Option {
	return func(s *Service) { s.oauth = p }
}

// WithLoginObserver はログイン結果の記録先を設定する。
func WithLoginObserver(o LoginObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock は時刻取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService はServiceを生成する。
func NewService(verifier IdentityVerifier, issuer *SessionIssuer, store repository.Store, opts ...Option) *Service {
	s := &Service{
		verifier: verifier,
		issuer:   issuer,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OAuthEnabled はブラウザ向けコードフローが利用可能かを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", errors.New("oauth code flow is not configured")
	}
	return s.oauth.GetLoginURL(state), nil
}

// HandleCallback は認可コードをIDトークンに交換してログインする。
func (s *Service) HandleCallback(ctx context.Context, code string) (*LoginResult, error) {
	if s.oauth == nil {
		return nil, errors.New("oauth code flow is not configured")
	}
	idToken, err := s.oauth.ExchangeIDToken(ctx, code)
	if err != nil {
		slog.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		s.observe(LoginOutcomeInvalid)
		return nil, model.NewInvalidIdentityTokenError()
	}
	return s.LoginWithIDToken(ctx, idToken)
}

// LoginWithIDToken はGoogleのIDトークンを検証し、ユーザーを作成または更新して
// セッショントークンを発行する。無効化されたユーザーはログインできない。
func (s *Service) LoginWithIDToken(ctx context.Context, rawIDToken string) (*LoginResult, error) {
	claim, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		if errors.Is(err, ErrIdentityProviderUnavailable) {
			slog.Warn("identity provider unavailable", slog.String("error", err.Error()))
			s.observe(LoginOutcomeUnavailable)
			return nil, model.NewIdentityProviderUnavailableError()
		}
		slog.Info("identity token rejected", slog.String("error", err.Error()))
		s.observe(LoginOutcomeInvalid)
		return nil, model.NewInvalidIdentityTokenError()
	}

	var user *model.User
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		u, err := directory.New(repos.Users(), s.now).UpsertFromIdentity(ctx, claim)
		if err != nil {
			return err
		}
		if !u.IsActive {
			return model.NewUserInactiveError()
		}
		user = u
		return nil
	})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserInactive {
			slog.Info("inactive user attempted login", slog.String("email", claim.Email))
			s.observe(LoginOutcomeInactive)
			return nil, err
		}
		s.observe(LoginOutcomeError)
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	token, expiresAt, err := s.issuer.Issue(user.ID, user.Email, 0)
	if err != nil {
		s.observe(LoginOutcomeError)
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	s.observe(LoginOutcomeSuccess)

	return &LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

// Authenticate はベアラートークンから有効なユーザーを解決する。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, model.NewInvalidSessionError()
	}

	user, err := s.store.Users().FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidSessionError()
	}
	if !user.IsActive {
		return nil, model.NewUserInactiveError()
	}
	return user, nil
}

// Logout はログアウトを記録する。トークンはステートレスなため、サーバー側で破棄するものはない。
func (s *Service) Logout(_ context.Context, user *model.User) {
	if user == nil {
		return
	}
	slog.Info("user logged out", slog.Int64("user_id", user.ID))
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveLogin(outcome)
	}
}
