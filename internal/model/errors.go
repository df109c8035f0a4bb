// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, permission, validation, user, app, analytics, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidIdentityToken        = "INVALID_IDENTITY_TOKEN"
	ErrCodeIdentityProviderUnavailable = "IDENTITY_PROVIDER_UNAVAILABLE"
	ErrCodeInvalidSession              = "INVALID_SESSION"
	ErrCodeUserInactive                = "USER_INACTIVE"
	ErrCodePermissionDenied            = "PERMISSION_DENIED"
	ErrCodeUserNotFound                = "USER_NOT_FOUND"
	ErrCodeAppNotFound                 = "APP_NOT_FOUND"
	ErrCodeChartNotFound               = "CHART_NOT_FOUND"
	ErrCodeDuplicateEmail              = "DUPLICATE_EMAIL"
	ErrCodeDuplicateIdentity           = "DUPLICATE_IDENTITY"
	ErrCodeDuplicatePackageName        = "DUPLICATE_PACKAGE_NAME"
	ErrCodeValidation                  = "VALIDATION_ERROR"
	ErrCodeCannotDeleteSelf            = "CANNOT_DELETE_SELF"
	ErrCodeUnsupportedFileType         = "UNSUPPORTED_FILE_TYPE"
	ErrCodeFileTooLarge                = "FILE_TOO_LARGE"
	ErrCodeRateLimitExceeded           = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal                    = "INTERNAL_ERROR"
)

// NewInvalidIdentityTokenError はIDトークンの検証失敗エラーを生成する。
func NewInvalidIdentityTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIdentityToken,
		Message:  "Googleの認証トークンが無効です。",
		Category: "auth",
		Action:   "もう一度Googleでログインしてください。",
	}
}

// NewIdentityProviderUnavailableError はIdPに到達できない場合のエラーを生成する。
func NewIdentityProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityProviderUnavailable,
		Message:  "認証プロバイダに接続できません。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewInvalidSessionError はセッショントークンが無効な場合のエラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "セッションが無効または期限切れです。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUserInactiveError は無効化されたユーザーのログインを拒否するエラーを生成する。
func NewUserInactiveError() *APIError {
	return &APIError{
		Code:     ErrCodeUserInactive,
		Message:  "このアカウントは無効化されています。",
		Category: "auth",
		Action:   "管理者に連絡してください。",
	}
}

// NewPermissionDeniedError は権限不足エラーを生成する。
func NewPermissionDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodePermissionDenied,
		Message:  "この操作を実行する権限がありません。",
		Category: "permission",
		Action:   "必要な権限については管理者に問い合わせてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "user",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewAppNotFoundError はアプリが見つからない場合のエラーを生成する。
func NewAppNotFoundError(appID int64) *APIError {
	return &APIError{
		Code:     ErrCodeAppNotFound,
		Message:  fmt.Sprintf("指定されたアプリが見つかりません: %d", appID),
		Category: "app",
		Action:   "アプリIDを確認してください。",
	}
}

// NewChartNotFoundError は未知のチャート種別が指定された場合のエラーを生成する。
func NewChartNotFoundError(chartType string) *APIError {
	return &APIError{
		Code:     ErrCodeChartNotFound,
		Message:  fmt.Sprintf("指定されたチャートは存在しません: %s", chartType),
		Category: "analytics",
		Action:   "チャート種別には revenue または users を指定してください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "user",
		Action:   "別のメールアドレスを指定してください。",
	}
}

// NewDuplicateIdentityError はGoogleアカウントが別のユーザーに紐づいている場合のエラーを生成する。
func NewDuplicateIdentityError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIdentity,
		Message:  "このGoogleアカウントは別のユーザーに紐づいています。",
		Category: "user",
		Action:   "管理者に連絡してください。",
	}
}

// NewDuplicatePackageNameError はパッケージ名重複エラーを生成する。
func NewDuplicatePackageNameError(packageName string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicatePackageName,
		Message:  fmt.Sprintf("このパッケージ名は既に登録されています: %s", packageName),
		Category: "app",
		Action:   "別のパッケージ名を指定してください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewCannotDeleteSelfError は管理者が自分自身を削除しようとした場合のエラーを生成する。
func NewCannotDeleteSelfError() *APIError {
	return &APIError{
		Code:     ErrCodeCannotDeleteSelf,
		Message:  "自分自身のアカウントは削除できません。",
		Category: "validation",
		Action:   "別の管理者に削除を依頼してください。",
	}
}

// NewUnsupportedFileTypeError は許可されていない拡張子のファイルが送信された場合のエラーを生成する。
func NewUnsupportedFileTypeError(ext string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedFileType,
		Message:  fmt.Sprintf("このファイル形式はアップロードできません: %s", ext),
		Category: "validation",
		Action:   "許可されている形式（.apk, .ipa, .aab, .zip, 画像）のファイルを指定してください。",
	}
}

// NewFileTooLargeError はアップロードサイズ超過エラーを生成する。
func NewFileTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeFileTooLarge,
		Message:  fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", maxBytes),
		Category: "validation",
		Action:   "ファイルサイズを小さくしてから再度アップロードしてください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ出力する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "サーバー内部でエラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}
