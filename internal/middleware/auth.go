package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/pubadmin/internal/model"
)

// contextKey はコンテキストキーの型。
type contextKey string

const actorContextKey contextKey = "actor"

// Authenticator はベアラートークンから有効なユーザーを解決する。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// 操作者をコンテキストに格納するミドルウェアを返す。
// トークンが無い・無効・ユーザーが無効化済みの場合は401を返す。
func NewAuthMiddleware(auth Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
				return
			}

			user, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					w.Header().Set("WWW-Authenticate", "Bearer")
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.Error("failed to authenticate request",
					slog.String("error", err.Error()),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), user)))
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithActor はコンテキストに操作者を格納する。
func WithActor(ctx context.Context, user *model.User) context.Context {
	if info := requestInfoFromContext(ctx); info != nil && user != nil {
		info.actorID = user.ID
	}
	return context.WithValue(ctx, actorContextKey, user)
}

// ActorFromContext はコンテキストから操作者を取得する。
func ActorFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(actorContextKey).(*model.User)
	return user, ok && user != nil
}
