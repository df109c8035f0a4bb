package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// GoogleOAuthConfig はブラウザ向けGoogle OAuthコードフローの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string

	HTTPClient *http.Client
}

// OAuthProvider は認可コードフローでIDトークンを取得するプロバイダー。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeIDToken は認可コードをトークンに交換し、IDトークンを返す。
	ExchangeIDToken(ctx context.Context, code string) (string, error)
}

// GoogleOAuthProvider はGoogle OAuth 2.0の認可コードフローを提供する。
// 取得したIDトークンの検証はIdentityVerifierで行う。
type GoogleOAuthProvider struct {
	config *oauth2.Config
	client *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(cfg GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := endpoints.Google
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &GoogleOAuthProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		client: cfg.HTTPClient,
	}
}

// GetLoginURL はGoogle OAuthの認証URLを生成する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// ExchangeIDToken は認可コードをトークンに交換し、レスポンスに含まれるid_tokenを返す。
func (p *GoogleOAuthProvider) ExchangeIDToken(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", errors.New("authorization code is required")
	}
	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	idToken, ok := token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return "", errors.New("token response does not contain id_token")
	}
	return idToken, nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
