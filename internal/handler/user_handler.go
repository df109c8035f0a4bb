package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/pubadmin/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Get(ctx context.Context, actor *model.User, id int64) (*model.User, error)
	List(ctx context.Context, actor *model.User, offset, limit int) ([]*model.User, error)
	Create(ctx context.Context, actor *model.User, in model.NewUserInput) (*model.User, error)
	Update(ctx context.Context, actor *model.User, id int64, patch model.UserPatch) (*model.User, error)
	Delete(ctx context.Context, actor *model.User, id int64) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	page    Pagination
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, page Pagination) *UserHandler {
	return &UserHandler{
		service: service,
		page:    page,
	}
}

type createUserRequest struct {
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	Role      model.Role `json:"role"`
	GoogleID  *string    `json:"google_id"`
	AvatarURL *string    `json:"avatar_url"`
}

type updateUserRequest struct {
	FullName *string     `json:"full_name"`
	Role     *model.Role `json:"role"`
	IsActive *bool       `json:"is_active"`
}

// List はユーザー一覧を返す。
// GET /users?skip=0&limit=20
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	offset, limit, ok := h.page.parsePage(w, r)
	if !ok {
		return
	}

	users, err := h.service.List(r.Context(), actor, offset, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create はユーザーを作成する。
// POST /users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.Create(r.Context(), actor, model.NewUserInput{
		Email:     req.Email,
		FullName:  req.FullName,
		Role:      req.Role,
		GoogleID:  req.GoogleID,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(created))
}

// Get はユーザー詳細を返す。
// GET /users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	u, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Update はユーザーを部分更新する。
// PUT /users/{id}
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.Update(r.Context(), actor, id, model.UserPatch{
		FullName: req.FullName,
		Role:     req.Role,
		IsActive: req.IsActive,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Delete はユーザーを削除する。
// DELETE /users/{id}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "ユーザーを削除しました。"})
}
