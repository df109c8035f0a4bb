// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/lib/pq"
)

// AppStatus はアプリのライフサイクル状態を表す。
// 状態遷移の妥当性は検証しない（任意の状態を直接設定できる）。
type AppStatus string

const (
	AppStatusDraft     AppStatus = "draft"
	AppStatusInReview  AppStatus = "in_review"
	AppStatusApproved  AppStatus = "approved"
	AppStatusPublished AppStatus = "published"
	AppStatusSuspended AppStatus = "suspended"
	AppStatusArchived  AppStatus = "archived"
)

// Valid はステータスが定義済みの値かどうかを返す。
func (s AppStatus) Valid() bool {
	switch s {
	case AppStatusDraft, AppStatusInReview, AppStatusApproved,
		AppStatusPublished, AppStatusSuspended, AppStatusArchived:
		return true
	}
	return false
}

// AppType はアプリの種別を表す。
type AppType string

const (
	AppTypeMobileApp AppType = "mobile_app"
	AppTypeGame      AppType = "game"
	AppTypeWebApp    AppType = "web_app"
)

// Valid は種別が定義済みの値かどうかを返す。
func (t AppType) Valid() bool {
	switch t {
	case AppTypeMobileApp, AppTypeGame, AppTypeWebApp:
		return true
	}
	return false
}

// Platform はアプリの配信プラットフォームを表す。
type Platform string

const (
	PlatformAndroid       Platform = "android"
	PlatformIOS           Platform = "ios"
	PlatformWeb           Platform = "web"
	PlatformCrossPlatform Platform = "cross_platform"
)

// Valid はプラットフォームが定義済みの値かどうかを返す。
func (p Platform) Valid() bool {
	switch p {
	case PlatformAndroid, PlatformIOS, PlatformWeb, PlatformCrossPlatform:
		return true
	}
	return false
}

// App はカタログに登録されたアプリを表す。
// CreatedByが所有者であり、PM・マーケティング担当は任意で割り当てられる。
type App struct {
	ID                int64          `db:"id"`
	Name              string         `db:"name"`
	PackageName       string         `db:"package_name"`
	Description       *string        `db:"description"`
	AppType           AppType        `db:"app_type"`
	Platform          Platform       `db:"platform"`
	Version           string         `db:"version"`
	BuildNumber       int            `db:"build_number"`
	Status            AppStatus      `db:"status"`
	IsPublished       bool           `db:"is_published"`
	IconURL           *string        `db:"icon_url"`
	Screenshots       pq.StringArray `db:"screenshots"`
	Category          *string        `db:"category"`
	Tags              pq.StringArray `db:"tags"`
	TargetAudience    *string        `db:"target_audience"`
	CreatedBy         int64          `db:"created_by"`
	AssignedPM        *int64         `db:"assigned_pm"`
	AssignedMarketing *int64         `db:"assigned_marketing"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         *time.Time     `db:"updated_at"`
	PublishedAt       *time.Time     `db:"published_at"`
}

// NewAppInput はアプリ作成の入力。
type NewAppInput struct {
	Name           string
	PackageName    string
	Description    *string
	AppType        AppType
	Platform       Platform
	Version        string
	BuildNumber    int
	Category       *string
	TargetAudience *string
	Tags           []string
	IconURL        *string
	Screenshots    []string
}

// AppPatch はアプリ更新の部分入力。nilのフィールドは変更しない。
// 任意項目はNullableで受け取り、明示的なnullでクリアできる。
// パッケージ名は作成後に変更できない。
type AppPatch struct {
	Name              *string
	Description       Nullable[string]
	Version           *string
	BuildNumber       *int
	Status            *AppStatus
	Category          Nullable[string]
	TargetAudience    Nullable[string]
	Tags              []string // nilなら変更しない。空スライスはクリア。
	IconURL           Nullable[string]
	Screenshots       []string // nilなら変更しない。空スライスはクリア。
	AssignedPM        Nullable[int64]
	AssignedMarketing Nullable[int64]
}

// AppListFilter はアプリ一覧の絞り込み条件。
// InvolvedUserIDが設定されている場合は、作成者・PM・マーケティング担当のいずれかが
// そのユーザーであるアプリに限定する。
type AppListFilter struct {
	Status         *AppStatus
	InvolvedUserID *int64
	Offset         int
	Limit          int
}

// UploadedFile はアプリに紐づけてアップロードされたファイルの保存結果。
type UploadedFile struct {
	AppID       int64
	Filename    string
	Key         string
	URL         string
	Size        int64
	ContentType string
}
