// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/hr360/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "hr360.session_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey  = contextKey("user_id")
	sessionContextKey = contextKey("session")
)

// SessionValidator はセッションの検証に必要なインターフェース。
// auth.Serviceが実装する。
type SessionValidator interface {
	GetSession(ctx context.Context, token string) (*model.SessionWithUser, bool, error)
	IsPersistent(session *model.Session) bool
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
}

// NewSessionMiddleware はCookieまたはAuthorizationヘッダーからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みのセッションとユーザーをリクエストコンテキストに注入する。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(validator SessionValidator, cookie CookieConfig) func(next http.Handler) http.Handler {
	return sessionMiddleware(validator, cookie, true)
}

// NewOptionalSessionMiddleware はセッションがあればコンテキストに注入し、
// なければそのまま次のハンドラーに渡すミドルウェアを返す。
func NewOptionalSessionMiddleware(validator SessionValidator, cookie CookieConfig) func(next http.Handler) http.Handler {
	return sessionMiddleware(validator, cookie, false)
}

func sessionMiddleware(validator SessionValidator, cookie CookieConfig, required bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. トークンを取得（Cookie優先、なければBearer）
			token, fromCookie := SessionToken(r)
			if token == "" {
				if required {
					WriteServiceError(w, model.NewUnauthorizedError())
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// 2. セッションの有効性を検証（期限切れは削除される）
			sess, refreshed, err := validator.GetSession(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) {
					slog.Error("failed to validate session",
						slog.String("error", err.Error()),
					)
					err = model.NewUnauthorizedError()
				}
				if fromCookie {
					ClearSessionCookie(w, cookie)
				}
				if required {
					WriteServiceError(w, err)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// 3. スライディング更新されたらCookieを再発行
			if refreshed && fromCookie {
				SetSessionCookie(w, cookie, sess.Session, validator.IsPersistent(sess.Session))
			}

			// 4. 認証済みセッションをコンテキストに注入
			setLoggedUserID(r.Context(), sess.User.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
		})
	}
}

// SessionToken はリクエストからセッショントークンを取り出す。
// 2つ目の戻り値はCookieから取得したかどうか。
func SessionToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:]), false
	}
	return "", false
}

// SetSessionCookie はセッションCookieを設定する。
// persistentがfalseの場合はブラウザセッションCookie（Expiresなし）にする。
func SetSessionCookie(w http.ResponseWriter, cfg CookieConfig, session *model.Session, persistent bool) {
	c := &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Domain:   cfg.Domain,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if persistent {
		c.Expires = session.ExpiresAt
		c.MaxAge = int(time.Until(session.ExpiresAt).Seconds())
		if c.MaxAge <= 0 {
			c.MaxAge = -1
		}
	}
	http.SetCookie(w, c)
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromContext はリクエストコンテキストから認証済みセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.SessionWithUser, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*model.SessionWithUser)
	return sess, ok && sess != nil
}

// ContextWithSession はコンテキストに認証済みセッションを注入する。
func ContextWithSession(ctx context.Context, sess *model.SessionWithUser) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, sess)
	return context.WithValue(ctx, userIDContextKey, sess.User.ID)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
