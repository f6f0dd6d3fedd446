package middleware

import (
	"net/http"
	"strings"
)

// noStorePrefixes はセッションやユーザー情報を返すためキャッシュさせないパス。
var noStorePrefixes = []string{"/api/auth/", "/trpc/"}

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			for _, p := range noStorePrefixes {
				if strings.HasPrefix(r.URL.Path, p) {
					h.Set("Cache-Control", "no-store")
					h.Set("Pragma", "no-cache")
					break
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
