package rpc

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/hr360/internal/middleware"
	"github.com/hitoshi/hr360/internal/model"
)

// ErrorCode はtRPCのエラーコード名。
type ErrorCode string

// tRPCエラーコード
const (
	CodeParseError           ErrorCode = "PARSE_ERROR"
	CodeBadRequest           ErrorCode = "BAD_REQUEST"
	CodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	CodeForbidden            ErrorCode = "FORBIDDEN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeMethodNotSupported   ErrorCode = "METHOD_NOT_SUPPORTED"
	CodePayloadTooLarge      ErrorCode = "PAYLOAD_TOO_LARGE"
	CodeUnprocessableContent ErrorCode = "UNPROCESSABLE_CONTENT"
	CodeTooManyRequests      ErrorCode = "TOO_MANY_REQUESTS"
	CodeInternalServerError  ErrorCode = "INTERNAL_SERVER_ERROR"
	CodeServiceUnavailable   ErrorCode = "SERVICE_UNAVAILABLE"
)

// codeInfo はエラーコードごとのJSON-RPCコードとHTTPステータス。
var codeInfo = map[ErrorCode]struct {
	jsonRPC int
	status  int
}{
	CodeParseError:           {-32700, http.StatusBadRequest},
	CodeBadRequest:           {-32600, http.StatusBadRequest},
	CodeUnauthorized:         {-32001, http.StatusUnauthorized},
	CodeForbidden:            {-32003, http.StatusForbidden},
	CodeNotFound:             {-32004, http.StatusNotFound},
	CodeMethodNotSupported:   {-32005, http.StatusMethodNotAllowed},
	CodePayloadTooLarge:      {-32013, http.StatusRequestEntityTooLarge},
	CodeUnprocessableContent: {-32022, http.StatusUnprocessableEntity},
	CodeTooManyRequests:      {-32029, http.StatusTooManyRequests},
	CodeInternalServerError:  {-32603, http.StatusInternalServerError},
	CodeServiceUnavailable:   {-32603, http.StatusServiceUnavailable},
}

// HTTPStatus はエラーコードに対応するHTTPステータスを返す。
func (c ErrorCode) HTTPStatus() int {
	if info, ok := codeInfo[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// JSONRPCCode はエラーコードに対応するJSON-RPC 2.0のコードを返す。
func (c ErrorCode) JSONRPCCode() int {
	if info, ok := codeInfo[c]; ok {
		return info.jsonRPC
	}
	return -32603
}

// Error はプロシージャが返すtRPCエラー。
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// NewError はtRPCエラーを生成する。
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// toError は任意のエラーをtRPCエラーに変換する。
// model.APIErrorはHTTPステータスからコードを決め、それ以外は内部エラーとして記録する。
func toError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return &Error{Code: codeForStatus(middleware.StatusForAPIError(apiErr)), Message: apiErr.Message, Cause: err}
	}

	slog.Error("rpc procedure failed", slog.String("error", err.Error()))
	return &Error{Code: CodeInternalServerError, Message: middleware.InternalError().Message, Cause: err}
}

func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusUnprocessableEntity:
		return CodeUnprocessableContent
	case http.StatusTooManyRequests:
		return CodeTooManyRequests
	case http.StatusServiceUnavailable:
		return CodeServiceUnavailable
	default:
		return CodeInternalServerError
	}
}

// errorEnvelope はtRPCのエラーレスポンス形式。
type errorEnvelope struct {
	Error errorShape `json:"error"`
}

type errorShape struct {
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Data    errorData `json:"data"`
}

type errorData struct {
	Code       ErrorCode `json:"code"`
	HTTPStatus int       `json:"httpStatus"`
	Path       string    `json:"path,omitempty"`
}

func (e *Error) envelope(path string) errorEnvelope {
	return errorEnvelope{Error: errorShape{
		Message: e.Message,
		Code:    e.Code.JSONRPCCode(),
		Data: errorData{
			Code:       e.Code,
			HTTPStatus: e.Code.HTTPStatus(),
			Path:       path,
		},
	}}
}
