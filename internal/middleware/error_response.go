package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/hr360/internal/model"
)

// ErrCodeInternal は想定外のエラーに使うコード。
const ErrCodeInternal = "INTERNAL_ERROR"

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, InternalError())
}

// InternalError は利用者向けの内部エラーを返す。
func InternalError() *model.APIError {
	return &model.APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// WriteServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換して書き込む。
// APIError以外は内部エラーとしてログに記録する。
func WriteServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForAPIError(apiErr), apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}

// StatusForAPIError はAPIErrorコードからHTTPステータスコードにマッピングする。
func StatusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUserAlreadyExists:
		return http.StatusUnprocessableEntity
	case model.ErrCodeInvalidEmail, model.ErrCodeInvalidName,
		model.ErrCodePasswordTooShort, model.ErrCodePasswordTooLong,
		model.ErrCodeInvalidPassword, model.ErrCodeInvalidToken,
		model.ErrCodeCredentialAccountNotFound, model.ErrCodeInvalidImageURL,
		model.ErrCodeBadRequest:
		return http.StatusBadRequest
	case model.ErrCodeInvalidEmailOrPassword, model.ErrCodeUnauthorized, model.ErrCodeSessionExpired:
		return http.StatusUnauthorized
	case model.ErrCodeEmailNotVerified, model.ErrCodeInvalidCallbackURL, model.ErrCodeInvalidOrigin:
		return http.StatusForbidden
	case model.ErrCodeProviderNotFound, model.ErrCodeUserNotFound, model.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case model.ErrCodeAvatarStorageDisabled:
		return http.StatusServiceUnavailable
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
