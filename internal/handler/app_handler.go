package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/pubadmin/internal/catalog"
	"github.com/hitoshi/pubadmin/internal/middleware"
	"github.com/hitoshi/pubadmin/internal/model"
)

// multipartOverhead はmultipartのヘッダー等に許容するファイル本体以外のバイト数。
const multipartOverhead = 1 << 20

// AppServiceInterface はアプリハンドラーが必要とするサービスインターフェース。
type AppServiceInterface interface {
	List(ctx context.Context, actor *model.User, filter model.AppListFilter) ([]*model.App, error)
	Get(ctx context.Context, actor *model.User, id int64) (*model.App, error)
	Create(ctx context.Context, actor *model.User, in model.NewAppInput) (*model.App, error)
	Update(ctx context.Context, actor *model.User, id int64, patch model.AppPatch) (*model.App, error)
	Delete(ctx context.Context, actor *model.User, id int64) error
	Upload(ctx context.Context, actor *model.User, id int64, in catalog.UploadInput) (*model.UploadedFile, error)
}

// AppHandler はアプリカタログのHTTPハンドラー。
type AppHandler struct {
	service       AppServiceInterface
	page          Pagination
	maxUploadSize int64
}

// NewAppHandler はAppHandlerを生成する。
func NewAppHandler(service AppServiceInterface, page Pagination, maxUploadSize int64) *AppHandler {
	return &AppHandler{
		service:       service,
		page:          page,
		maxUploadSize: maxUploadSize,
	}
}

type createAppRequest struct {
	Name           string         `json:"name"`
	PackageName    string         `json:"package_name"`
	Description    *string        `json:"description"`
	AppType        model.AppType  `json:"app_type"`
	Platform       model.Platform `json:"platform"`
	Version        string         `json:"version"`
	BuildNumber    int            `json:"build_number"`
	Category       *string        `json:"category"`
	TargetAudience *string        `json:"target_audience"`
	Tags           []string       `json:"tags"`
	IconURL        *string        `json:"icon_url"`
	Screenshots    []string       `json:"screenshots"`
}

// updateAppRequest はアプリ更新のリクエスト。任意項目は明示的なnullでクリアできる。
type updateAppRequest struct {
	Name              *string                `json:"name"`
	Description       model.Nullable[string] `json:"description"`
	Version           *string                `json:"version"`
	BuildNumber       *int                   `json:"build_number"`
	Status            *model.AppStatus       `json:"status"`
	Category          model.Nullable[string] `json:"category"`
	TargetAudience    model.Nullable[string] `json:"target_audience"`
	Tags              []string               `json:"tags"`
	IconURL           model.Nullable[string] `json:"icon_url"`
	Screenshots       []string               `json:"screenshots"`
	AssignedPM        model.Nullable[int64]  `json:"assigned_pm"`
	AssignedMarketing model.Nullable[int64]  `json:"assigned_marketing"`
}

// appResponse はアプリ詳細のAPIレスポンス。
type appResponse struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	PackageName       string          `json:"package_name"`
	Description       *string         `json:"description"`
	AppType           model.AppType   `json:"app_type"`
	Platform          model.Platform  `json:"platform"`
	Version           string          `json:"version"`
	BuildNumber       int             `json:"build_number"`
	Status            model.AppStatus `json:"status"`
	IsPublished       bool            `json:"is_published"`
	IconURL           *string         `json:"icon_url"`
	Screenshots       []string        `json:"screenshots"`
	Category          *string         `json:"category"`
	Tags              []string        `json:"tags"`
	TargetAudience    *string         `json:"target_audience"`
	CreatedBy         int64           `json:"created_by"`
	AssignedPM        *int64          `json:"assigned_pm"`
	AssignedMarketing *int64          `json:"assigned_marketing"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         *time.Time      `json:"updated_at"`
	PublishedAt       *time.Time      `json:"published_at"`
}

// appListResponse は一覧用の縮約されたアプリ情報。
type appListResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	PackageName string          `json:"package_name"`
	AppType     model.AppType   `json:"app_type"`
	Platform    model.Platform  `json:"platform"`
	Status      model.AppStatus `json:"status"`
	Version     string          `json:"version"`
	IconURL     *string         `json:"icon_url"`
	CreatedAt   time.Time       `json:"created_at"`
}

type uploadResponse struct {
	Message     string `json:"message"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// List はアプリ一覧を返す。
// GET /apps?skip=0&limit=20&status_filter=published
func (h *AppHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	offset, limit, ok := h.page.parsePage(w, r)
	if !ok {
		return
	}

	filter := model.AppListFilter{Offset: offset, Limit: limit}
	if s := r.URL.Query().Get("status_filter"); s != "" {
		status := model.AppStatus(s)
		filter.Status = &status
	}

	apps, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]appListResponse, 0, len(apps))
	for _, a := range apps {
		resp = append(resp, toAppListResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はアプリ詳細を返す。
// GET /apps/{id}
func (h *AppHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	app, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppResponse(app))
}

// Create はアプリを登録する。
// POST /apps
func (h *AppHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createAppRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	app, err := h.service.Create(r.Context(), actor, model.NewAppInput{
		Name:           req.Name,
		PackageName:    req.PackageName,
		Description:    req.Description,
		AppType:        req.AppType,
		Platform:       req.Platform,
		Version:        req.Version,
		BuildNumber:    req.BuildNumber,
		Category:       req.Category,
		TargetAudience: req.TargetAudience,
		Tags:           req.Tags,
		IconURL:        req.IconURL,
		Screenshots:    req.Screenshots,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppResponse(app))
}

// Update はアプリを部分更新する。
// PUT /apps/{id}
func (h *AppHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateAppRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	app, err := h.service.Update(r.Context(), actor, id, model.AppPatch{
		Name:              req.Name,
		Description:       req.Description,
		Version:           req.Version,
		BuildNumber:       req.BuildNumber,
		Status:            req.Status,
		Category:          req.Category,
		TargetAudience:    req.TargetAudience,
		Tags:              req.Tags,
		IconURL:           req.IconURL,
		Screenshots:       req.Screenshots,
		AssignedPM:        req.AssignedPM,
		AssignedMarketing: req.AssignedMarketing,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppResponse(app))
}

// Delete はアプリを削除する。
// DELETE /apps/{id}
func (h *AppHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, messageResponse{Message: "アプリを削除しました。"})
}

// Upload はアプリに紐づくファイルを受け付ける。multipartのfileフィールドを使用する。
// POST /apps/{id}/upload
func (h *AppHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewFileTooLargeError(h.maxUploadSize))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("fileフィールドが必要です"))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	uploaded, err := h.service.Upload(r.Context(), actor, id, catalog.UploadInput{
		Filename:    header.Filename,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Message:     "ファイルをアップロードしました。",
		Filename:    uploaded.Filename,
		URL:         uploaded.URL,
		Size:        uploaded.Size,
		ContentType: uploaded.ContentType,
	})
}

func toAppResponse(a *model.App) appResponse {
	return appResponse{
		ID:                a.ID,
		Name:              a.Name,
		PackageName:       a.PackageName,
		Description:       a.Description,
		AppType:           a.AppType,
		Platform:          a.Platform,
		Version:           a.Version,
		BuildNumber:       a.BuildNumber,
		Status:            a.Status,
		IsPublished:       a.IsPublished,
		IconURL:           a.IconURL,
		Screenshots:       nonNil(a.Screenshots),
		Category:          a.Category,
		Tags:              nonNil(a.Tags),
		TargetAudience:    a.TargetAudience,
		CreatedBy:         a.CreatedBy,
		AssignedPM:        a.AssignedPM,
		AssignedMarketing: a.AssignedMarketing,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
		PublishedAt:       a.PublishedAt,
	}
}

func toAppListResponse(a *model.App) appListResponse {
	return appListResponse{
		ID:          a.ID,
		Name:        a.Name,
		PackageName: a.PackageName,
		AppType:     a.AppType,
		Platform:    a.Platform,
		Status:      a.Status,
		Version:     a.Version,
		IconURL:     a.IconURL,
		CreatedAt:   a.CreatedAt,
	}
}

// nonNil はJSONでnullではなく空配列を返すためにnilスライスを置き換える。
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
