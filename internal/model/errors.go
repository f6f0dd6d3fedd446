// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUserAlreadyExists         = "USER_ALREADY_EXISTS"
	ErrCodeInvalidEmail              = "INVALID_EMAIL"
	ErrCodeInvalidName               = "INVALID_NAME"
	ErrCodePasswordTooShort          = "PASSWORD_TOO_SHORT"
	ErrCodePasswordTooLong           = "PASSWORD_TOO_LONG"
	ErrCodeInvalidEmailOrPassword    = "INVALID_EMAIL_OR_PASSWORD"
	ErrCodeInvalidPassword           = "INVALID_PASSWORD"
	ErrCodeEmailNotVerified          = "EMAIL_NOT_VERIFIED"
	ErrCodeUnauthorized              = "UNAUTHORIZED"
	ErrCodeSessionExpired            = "SESSION_EXPIRED"
	ErrCodeInvalidToken              = "INVALID_TOKEN"
	ErrCodeProviderNotFound          = "PROVIDER_NOT_FOUND"
	ErrCodeCredentialAccountNotFound = "CREDENTIAL_ACCOUNT_NOT_FOUND"
	ErrCodeUserNotFound              = "USER_NOT_FOUND"
	ErrCodeSessionNotFound           = "SESSION_NOT_FOUND"
	ErrCodeInvalidCallbackURL        = "INVALID_CALLBACK_URL"
	ErrCodeInvalidOrigin             = "INVALID_ORIGIN"
	ErrCodeInvalidImageURL           = "INVALID_IMAGE_URL"
	ErrCodeAvatarStorageDisabled     = "AVATAR_STORAGE_DISABLED"
	ErrCodeBadRequest                = "BAD_REQUEST"
	ErrCodeRateLimited               = "RATE_LIMITED"
)

// NewUserAlreadyExistsError はメールアドレス重複エラーを生成する。
func NewUserAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeUserAlreadyExists,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "サインインするか、別のメールアドレスを使用してください。",
	}
}

// NewInvalidEmailError は不正なメールアドレスエラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスの形式が正しくありません。",
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewInvalidNameError は名前未入力エラーを生成する。
func NewInvalidNameError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidName,
		Message:  "名前を入力してください。",
		Category: "validation",
		Action:   "1文字以上の名前を入力してください。",
	}
}

// NewPasswordTooShortError はパスワード長不足エラーを生成する。
func NewPasswordTooShortError(min int) *APIError {
	return &APIError{
		Code:     ErrCodePasswordTooShort,
		Message:  fmt.Sprintf("パスワードは%d文字以上で入力してください。", min),
		Category: "validation",
		Action:   "より長いパスワードを設定してください。",
	}
}

// NewPasswordTooLongError はパスワード長超過エラーを生成する。
func NewPasswordTooLongError(max int) *APIError {
	return &APIError{
		Code:     ErrCodePasswordTooLong,
		Message:  fmt.Sprintf("パスワードは%d文字以内で入力してください。", max),
		Category: "validation",
		Action:   "より短いパスワードを設定してください。",
	}
}

// NewInvalidEmailOrPasswordError は認証情報不一致エラーを生成する。
// ユーザーの存在有無を推測されないよう、どちらの場合も同じエラーを返す。
func NewInvalidEmailOrPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmailOrPassword,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidPasswordError は現在のパスワード不一致エラーを生成する。
func NewInvalidPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPassword,
		Message:  "現在のパスワードが正しくありません。",
		Category: "auth",
		Action:   "現在のパスワードを確認してください。",
	}
}

// NewEmailNotVerifiedError はメール未確認エラーを生成する。
func NewEmailNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotVerified,
		Message:  "メールアドレスが確認されていません。",
		Category: "auth",
		Action:   "確認メールのリンクを開いてからサインインしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "サインインしてください。",
	}
}

// NewSessionExpiredError はセッション期限切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れています。",
		Category: "auth",
		Action:   "再度サインインしてください。",
	}
}

// NewInvalidTokenError は無効・期限切れ・使用済みトークンのエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "トークンが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "もう一度メールの送信からやり直してください。",
	}
}

// NewProviderNotFoundError は未対応IdPのエラーを生成する。
func NewProviderNotFoundError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotFound,
		Message:  fmt.Sprintf("対応していないプロバイダーです: %s", provider),
		Category: "auth",
		Action:   "別のサインイン方法を選択してください。",
	}
}

// NewCredentialAccountNotFoundError はパスワード未設定アカウントのエラーを生成する。
func NewCredentialAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeCredentialAccountNotFound,
		Message:  "このアカウントにはパスワードが設定されていません。",
		Category: "auth",
		Action:   "パスワードリセットからパスワードを設定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSessionNotFoundError はセッションが見つからない場合のエラーを生成する。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "指定されたセッションが見つかりません。",
		Category: "auth",
		Action:   "セッション一覧を再読み込みしてください。",
	}
}

// NewInvalidCallbackURLError は信頼されていないリダイレクト先のエラーを生成する。
func NewInvalidCallbackURLError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCallbackURL,
		Message:  "リダイレクト先のURLが許可されていません。",
		Category: "validation",
		Action:   "アプリケーション内のURLを指定してください。",
	}
}

// NewInvalidOriginError は信頼されていないOriginからのリクエストのエラーを生成する。
func NewInvalidOriginError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrigin,
		Message:  "許可されていないOriginからのリクエストです。",
		Category: "auth",
		Action:   "アプリケーションの画面から操作してください。",
	}
}

// NewInvalidImageURLError は不正なアバター画像URLのエラーを生成する。
func NewInvalidImageURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImageURL,
		Message:  fmt.Sprintf("画像URLが無効です: %s", reason),
		Category: "validation",
		Action:   "公開されている https:// の画像URLを指定してください。",
	}
}

// NewAvatarStorageDisabledError はアバターストレージ未設定のエラーを生成する。
func NewAvatarStorageDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeAvatarStorageDisabled,
		Message:  "アバター画像のアップロードは現在利用できません。",
		Category: "system",
		Action:   "画像URLを直接指定してください。",
	}
}

// NewBadRequestError はリクエスト形式エラーを生成する。
func NewBadRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewRateLimitedError はリクエスト数超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
