// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/pubadmin/internal/auth"
	"github.com/hitoshi/pubadmin/internal/middleware"
	"github.com/hitoshi/pubadmin/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginWithIDToken(ctx context.Context, rawIDToken string) (*auth.LoginResult, error)
	OAuthEnabled() bool
	GetLoginURL(state string) (string, error)
	HandleCallback(ctx context.Context, code string) (*auth.LoginResult, error)
	Logout(ctx context.Context, user *model.User)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string // コードフロー完了後のリダイレクト先（フロントエンド）
	CookieSecure bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type googleLoginRequest struct {
	IDToken string `json:"id_token"`
}

// authResponse はログイン成功時のレスポンス。
type authResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        userResponse `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// GoogleLogin はGoogleのIDトークンをセッショントークンに交換する。
// POST /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("id_tokenは必須です"))
		return
	}

	result, err := h.service.LoginWithIDToken(r.Context(), req.IDToken)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// Login はブラウザ向けのGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.service.OAuthEnabled() {
		http.NotFound(w, r)
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.service.GetLoginURL(state)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、フロントエンドへトークン付きでリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.service.OAuthEnabled() {
		http.NotFound(w, r)
		return
	}

	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("stateパラメータが不正です"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("認可コードがありません"))
		return
	}

	result, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// トークンはフラグメントで渡し、サーバーログやRefererに残さない
	fragment := url.Values{}
	fragment.Set("access_token", result.AccessToken)
	fragment.Set("token_type", result.TokenType)
	fragment.Set("expires_at", result.ExpiresAt.UTC().Format(time.RFC3339))
	target := strings.TrimRight(h.config.BaseURL, "/") + "/auth/callback#" + fragment.Encode()
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Logout はログアウトを記録する。セッショントークンの破棄はクライアント側で行う。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	h.service.Logout(r.Context(), actor)
	writeJSON(w, http.StatusOK, messageResponse{Message: "ログアウトしました。"})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(actor))
}

func toAuthResponse(result *auth.LoginResult) authResponse {
	return authResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresAt:   result.ExpiresAt,
		User:        toUserResponse(result.User),
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
