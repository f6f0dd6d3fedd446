package middleware

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/hr360/internal/model"
)

// OriginChecker はOriginが信頼済みかどうかを判定する。
// auth.RedirectValidatorが実装する。
type OriginChecker interface {
	IsTrustedOrigin(origin string) bool
}

// NewOriginCheckMiddleware はCSRF対策としてOrigin/Refererを検証するミドルウェアを返す。
// 安全なメソッド（GET, HEAD, OPTIONS）は検証をスキップする。
// 状態変更メソッドでOriginまたはRefererが付いている場合は信頼済みOriginと一致する必要がある。
// どちらも無いリクエスト（ブラウザ以外のクライアント）は通す。
func NewOriginCheckMiddleware(checker OriginChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := requestOrigin(r)
			if origin != "" && !checker.IsTrustedOrigin(origin) {
				slog.Warn("origin check failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				WriteServiceError(w, model.NewInvalidOriginError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestOrigin はOriginヘッダー、なければRefererからOriginを取り出す。
// "null"（サンドボックスiframeなど）はそのまま返して拒否させる。
func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return ref
	}
	return u.Scheme + "://" + u.Host
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
