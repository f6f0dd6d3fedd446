package auth

import (
	"net/url"
	"strings"

	"github.com/hitoshi/hr360/internal/model"
)

// RedirectValidator はcallbackURLなどのリダイレクト先を検証する。
// 相対パス、または信頼済みOriginの絶対URLのみを許可する（オープンリダイレクト対策）。
type RedirectValidator struct {
	trusted map[string]bool
}

// NewRedirectValidator は信頼済みOrigin一覧からRedirectValidatorを生成する。
func NewRedirectValidator(origins []string) *RedirectValidator {
	v := &RedirectValidator{trusted: make(map[string]bool, len(origins))}
	for _, o := range origins {
		if u, err := url.Parse(strings.TrimRight(o, "/")); err == nil && u.Host != "" {
			v.trusted[strings.ToLower(u.Scheme+"://"+u.Host)] = true
		}
	}
	return v
}

// IsTrustedOrigin はOriginが信頼済みかどうかを返す。
func (v *RedirectValidator) IsTrustedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return v.trusted[strings.ToLower(u.Scheme+"://"+u.Host)]
}

// Validate は空文字列をそのまま返し、それ以外は許可された場合のみ返す。
func (v *RedirectValidator) Validate(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if strings.ContainsAny(raw, "\\\r\n\t") {
		return "", model.NewInvalidCallbackURLError()
	}
	// "/path" は許可、"//host" はスキーム相対URLなので拒否
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return raw, nil
	}
	if v.IsTrustedOrigin(raw) {
		u, _ := url.Parse(raw)
		if u.Scheme == "http" || u.Scheme == "https" {
			return raw, nil
		}
	}
	return "", model.NewInvalidCallbackURLError()
}

// Resolve は相対パスをbaseの下の絶対URLに解決する。絶対URLはそのまま返す。
func Resolve(base, target string) string {
	if target == "" {
		return base
	}
	if strings.HasPrefix(target, "/") {
		return strings.TrimRight(base, "/") + target
	}
	return target
}
