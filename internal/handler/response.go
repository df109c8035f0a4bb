package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/pubadmin/internal/middleware"
	"github.com/hitoshi/pubadmin/internal/model"
)

// maxJSONBodySize はJSONリクエストボディの上限（1MB）。
const maxJSONBodySize = 1 << 20

// Pagination は一覧APIのページング設定。
type Pagination struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultPagination はデフォルトのページング設定を返す。
func DefaultPagination() Pagination {
	return Pagination{DefaultLimit: 20, MaxLimit: 100}
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name"`
	Role       model.Role `json:"role"`
	AvatarURL  *string    `json:"avatar_url"`
	IsActive   bool       `json:"is_active"`
	IsVerified bool       `json:"is_verified"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
	LastLogin  *time.Time `json:"last_login"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Role:       u.Role,
		AvatarURL:  u.AvatarURL,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
		LastLogin:  u.LastLogin,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodySize))
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidIdentityToken, model.ErrCodeInvalidSession, model.ErrCodeUserInactive:
		return http.StatusUnauthorized
	case model.ErrCodeIdentityProviderUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodePermissionDenied:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeAppNotFound, model.ErrCodeChartNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateEmail, model.ErrCodeDuplicateIdentity, model.ErrCodeDuplicatePackageName:
		return http.StatusConflict
	case model.ErrCodeValidation, model.ErrCodeCannotDeleteSelf, model.ErrCodeUnsupportedFileType:
		return http.StatusBadRequest
	case model.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// requireActor はコンテキストから操作者を取り出す。
// 認証ミドルウェアを通っていない場合は401を書き込みfalseを返す。
func requireActor(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
		return nil, false
	}
	return actor, true
}

// pathID はURLパラメータ{id}を正の整数として取り出す。
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("IDは正の整数で指定してください"))
		return 0, false
	}
	return id, true
}

// parsePage はクエリのskip・limitを検証して返す。
// skipは0以上、limitは1以上MaxLimit以下でなければ400を書き込む。
func (p Pagination) parsePage(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	q := r.URL.Query()

	offset = 0
	if s := q.Get("skip"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("skipは0以上の整数で指定してください"))
			return 0, 0, false
		}
		offset = v
	}

	limit = p.DefaultLimit
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > p.MaxLimit {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError("limitは1以上"+strconv.Itoa(p.MaxLimit)+"以下で指定してください"))
			return 0, 0, false
		}
		limit = v
	}
	return offset, limit, true
}
