// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hr360/internal/auth"
	"github.com/hitoshi/hr360/internal/avatar"
	"github.com/hitoshi/hr360/internal/middleware"
	"github.com/hitoshi/hr360/internal/model"
)

const (
	oauthStateCookie = "hr360.oauth_state"
	oauthStateMaxAge = 600 // 10分
	maxJSONBodyBytes = 64 << 10
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUpEmail(ctx context.Context, in auth.SignUpInput) (*auth.AuthResult, error)
	SignInEmail(ctx context.Context, in auth.SignInInput) (*auth.AuthResult, error)
	SocialSignIn(providerID, callbackURL, errorCallbackURL string) (*auth.SocialSignInResult, error)
	ParseState(stateCookie string) (*auth.StateClaims, error)
	HandleCallback(ctx context.Context, claims *auth.StateClaims, providerID, code, stateParam string, meta auth.RequestMeta) (*auth.AuthResult, error)
	IsPersistent(session *model.Session) bool
	SignOut(ctx context.Context, token string) error
	ListSessions(ctx context.Context, userID string) ([]*model.Session, error)
	RevokeSession(ctx context.Context, userID, token string) error
	RevokeSessions(ctx context.Context, userID string) error
	RevokeOtherSessions(ctx context.Context, userID, currentToken string) error
	UpdateUser(ctx context.Context, userID string, in auth.UpdateUserInput) (*model.User, error)
	ChangePassword(ctx context.Context, userID string, in auth.ChangePasswordInput) (*model.Session, error)
	DeleteUser(ctx context.Context, userID, password string) error
	RequestPasswordReset(ctx context.Context, email, redirectTo string) error
	CheckResetToken(ctx context.Context, token string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	SendVerificationEmail(ctx context.Context, email, callbackURL string) error
	VerifyEmail(ctx context.Context, token string, meta auth.RequestMeta) (*auth.AuthResult, error)
	ValidateRedirect(raw string) (string, error)
}

// AvatarPresigner はアバター画像の署名付きアップロードURLを発行する。
type AvatarPresigner interface {
	PresignUpload(ctx context.Context, userID, contentType string) (*avatar.UploadURL, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	ClientURL string // 相対パスのリダイレクト先を解決するベースURL
	Cookie    middleware.CookieConfig
}

// AuthHandler は/api/auth配下のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	avatars AvatarPresigner
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。avatarsがnilの場合はアップロードURLの発行を無効にする。
func NewAuthHandler(service AuthServiceInterface, avatars AvatarPresigner, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		avatars: avatars,
		config:  config,
	}
}

// sessionResponse はセッション発行系エンドポイントのレスポンス。
// tokenはBearer認証で使うクライアント向け。
type sessionResponse struct {
	Redirect bool        `json:"redirect"`
	Token    *string     `json:"token"`
	URL      string      `json:"url,omitempty"`
	User     *model.User `json:"user"`
}

type statusResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
}

// ============================================================
// メール/パスワード
// ============================================================

type signUpRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Image       string `json:"image"`
	CallbackURL string `json:"callbackURL"`
}

// SignUpEmail はメール/パスワードでユーザーを登録する。
// POST /api/auth/sign-up/email
func (h *AuthHandler) SignUpEmail(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.SignUpEmail(r.Context(), auth.SignUpInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Image:       req.Image,
		CallbackURL: req.CallbackURL,
		Meta:        requestMeta(r),
	})
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.issueSession(w, result, ""))
}

type signInRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	RememberMe  *bool  `json:"rememberMe"`
	CallbackURL string `json:"callbackURL"`
}

// SignInEmail はメール/パスワードでサインインする。
// POST /api/auth/sign-in/email
func (h *AuthHandler) SignInEmail(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// 省略時はログイン状態を保持する
	remember := req.RememberMe == nil || *req.RememberMe
	result, err := h.service.SignInEmail(r.Context(), auth.SignInInput{
		Email:       req.Email,
		Password:    req.Password,
		RememberMe:  remember,
		CallbackURL: req.CallbackURL,
		Meta:        requestMeta(r),
	})
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.issueSession(w, result, req.CallbackURL))
}

// issueSession はセッションがあればCookieを設定し、レスポンスを組み立てる。
func (h *AuthHandler) issueSession(w http.ResponseWriter, result *auth.AuthResult, callbackURL string) sessionResponse {
	resp := sessionResponse{User: result.User}
	if result.Session != nil {
		middleware.SetSessionCookie(w, h.config.Cookie, result.Session, result.RememberMe)
		token := result.Session.Token
		resp.Token = &token
	}
	if callbackURL != "" {
		resp.URL = auth.Resolve(h.config.ClientURL, callbackURL)
	}
	return resp
}

// ============================================================
// ソーシャルログイン
// ============================================================

type socialSignInRequest struct {
	Provider         string `json:"provider"`
	CallbackURL      string `json:"callbackURL"`
	ErrorCallbackURL string `json:"errorCallbackURL"`
	DisableRedirect  bool   `json:"disableRedirect"`
}

type socialSignInResponse struct {
	URL      string `json:"url"`
	Redirect bool   `json:"redirect"`
}

// SocialSignIn はIdPの認可URLを返す。
// POST /api/auth/sign-in/social はJSONで返し、GETの場合は認可URLへリダイレクトする。
func (h *AuthHandler) SocialSignIn(w http.ResponseWriter, r *http.Request) {
	var req socialSignInRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Provider = q.Get("provider")
		req.CallbackURL = q.Get("callbackURL")
		req.ErrorCallbackURL = q.Get("errorCallbackURL")
	} else if !decodeJSON(w, r, &req) {
		return
	}
	if req.Provider == "" {
		middleware.WriteServiceError(w, model.NewBadRequestError("provider を指定してください"))
		return
	}

	result, err := h.service.SocialSignIn(req.Provider, req.CallbackURL, req.ErrorCallbackURL)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    result.StateCookie,
		Path:     "/api/auth",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	if r.Method == http.MethodGet {
		http.Redirect(w, r, result.URL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, socialSignInResponse{URL: result.URL, Redirect: !req.DisableRedirect})
}

// Callback はIdPからのコールバックを処理し、セッションCookieを設定してリダイレクトする。
// 失敗時はerrorCallbackURL（なければcallbackURL）に ?error= を付けてリダイレクトする。
// GET /api/auth/callback/{provider}?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	q := r.URL.Query()

	// stateクッキーは成否にかかわらず1回で破棄する
	stateCookie, cookieErr := r.Cookie(oauthStateCookie)
	h.clearStateCookie(w)

	if cookieErr != nil || stateCookie.Value == "" {
		slog.Warn("oauth state cookie missing", slog.String("provider", providerID))
		h.redirectWithError(w, r, "", "state_not_found")
		return
	}
	claims, err := h.service.ParseState(stateCookie.Value)
	if err != nil {
		slog.Warn("oauth state invalid", slog.String("provider", providerID))
		h.redirectWithError(w, r, "", "invalid_state")
		return
	}

	errorTarget := claims.ErrorCallbackURL
	if errorTarget == "" {
		errorTarget = claims.CallbackURL
	}

	// ユーザーが同意を拒否した場合など
	if idpErr := q.Get("error"); idpErr != "" {
		h.redirectWithError(w, r, errorTarget, idpErr)
		return
	}

	result, err := h.service.HandleCallback(r.Context(), claims, providerID, q.Get("code"), q.Get("state"), requestMeta(r))
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			h.redirectWithError(w, r, errorTarget, apiErr.Code)
			return
		}
		slog.Error("oauth callback failed",
			slog.String("provider", providerID),
			slog.String("error", err.Error()),
		)
		h.redirectWithError(w, r, errorTarget, "oauth_callback_failed")
		return
	}

	middleware.SetSessionCookie(w, h.config.Cookie, result.Session, result.RememberMe)
	http.Redirect(w, r, auth.Resolve(h.config.ClientURL, claims.CallbackURL), http.StatusFound)
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// redirectWithError はtargetに ?error=code を付けてリダイレクトする。
func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, target, code string) {
	http.Redirect(w, r, withQuery(auth.Resolve(h.config.ClientURL, target), "error", code), http.StatusFound)
}

// ============================================================
// セッション
// ============================================================

// SignOut は現在のセッションを破棄する。
// POST /api/auth/sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if token, _ := middleware.SessionToken(r); token != "" {
		if err := h.service.SignOut(r.Context(), token); err != nil {
			// 失敗してもCookieはクリアする
			slog.Error("failed to sign out", slog.String("error", err.Error()))
		}
	}
	middleware.ClearSessionCookie(w, h.config.Cookie)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetSession は現在のセッションとユーザーを返す。未ログインならnullを返す。
// GET /api/auth/get-session
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListSessions はユーザーの有効なセッション一覧を返す。
// GET /api/auth/list-sessions
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	sessions, err := h.service.ListSessions(r.Context(), sess.User.ID)
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

type revokeSessionRequest struct {
	Token string `json:"token"`
}

// RevokeSession は指定したセッションを失効させる。
// POST /api/auth/revoke-session
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	var req revokeSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		middleware.WriteServiceError(w, model.NewBadRequestError("token を指定してください"))
		return
	}

	sess := mustSession(r)
	if err := h.service.RevokeSession(r.Context(), sess.User.ID, req.Token); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	if req.Token == sess.Session.Token {
		middleware.ClearSessionCookie(w, h.config.Cookie)
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: true})
}

// RevokeSessions はユーザーの全セッションを失効させる。
// POST /api/auth/revoke-sessions
func (h *AuthHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	if err := h.service.RevokeSessions(r.Context(), sess.User.ID); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	middleware.ClearSessionCookie(w, h.config.Cookie)
	writeJSON(w, http.StatusOK, statusResponse{Status: true})
}

// RevokeOtherSessions は現在のセッション以外を失効させる。
// POST /api/auth/revoke-other-sessions
func (h *AuthHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	if err := h.service.RevokeOtherSessions(r.Context(), sess.User.ID, sess.Session.Token); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: true})
}

// ============================================================
// ユーザー情報
// ============================================================

type updateUserRequest struct {
	Name  *string `json:"name"`
	Image *string `json:"image"`
}

// UpdateUser は表示名とアバター画像を更新する。
// POST /api/auth/update-user
func (h *AuthHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := mustSession(r)
	user, err := h.service.UpdateUser(r.Context(), sess.User.ID, auth.UpdateUserInput{Name: req.Name, Image: req.Image})
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "user": user})
}

type changePasswordRequest struct {
	CurrentPassword     string `json:"currentPassword"`
	NewPassword         string `json:"newPassword"`
	RevokeOtherSessions bool   `json:"revokeOtherSessions"`
}

// ChangePassword はパスワードを変更する。
// revokeOtherSessions指定時は新しいセッションに切り替える。
// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := mustSession(r)
	newSession, err := h.service.ChangePassword(r.Context(), sess.User.ID, auth.ChangePasswordInput{
		CurrentPassword:     req.CurrentPassword,
		NewPassword:         req.NewPassword,
		RevokeOtherSessions: req.RevokeOtherSessions,
		Meta:                requestMeta(r),
	})
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	resp := sessionResponse{User: sess.User}
	if newSession != nil {
		middleware.SetSessionCookie(w, h.config.Cookie, newSession, true)
		token := newSession.Token
		resp.Token = &token
	}
	writeJSON(w, http.StatusOK, resp)
}

type deleteUserRequest struct {
	Password string `json:"password"`
}

// DeleteUser は退会処理を行う。
// POST /api/auth/delete-user
func (h *AuthHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	var req deleteUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := mustSession(r)
	if err := h.service.DeleteUser(r.Context(), sess.User.ID, req.Password); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	middleware.ClearSessionCookie(w, h.config.Cookie)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "User deleted"})
}

type uploadURLRequest struct {
	ContentType string `json:"contentType"`
}

// AvatarUploadURL はアバター画像の署名付きアップロードURLを発行する。
// POST /api/auth/avatar/upload-url
func (h *AuthHandler) AvatarUploadURL(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		middleware.WriteServiceError(w, model.NewAvatarStorageDisabledError())
		return
	}
	var req uploadURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := mustSession(r)
	upload, err := h.avatars.PresignUpload(r.Context(), sess.User.ID, req.ContentType)
	if err != nil {
		if errors.Is(err, avatar.ErrUnsupportedContentType) {
			middleware.WriteServiceError(w, model.NewInvalidImageURLError("対応していない画像形式です"))
			return
		}
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

// ============================================================
// パスワードリセット / メールアドレス確認
// ============================================================

type passwordResetRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo"`
}

// RequestPasswordReset はリセットメールを送信する。登録有無にかかわらず同じ応答を返す。
// POST /api/auth/request-password-reset（旧名 /forget-password）
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), req.Email, req.RedirectTo); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  true,
		Message: "If this email exists in our system, check your email for the reset link",
	})
}

// ResetPasswordCallback はメール内のリンクを処理し、トークン付きでcallbackURLへリダイレクトする。
// トークンはここでは消費しない。
// GET /api/auth/reset-password/{token}?callbackURL=...
func (h *AuthHandler) ResetPasswordCallback(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	callbackURL, err := h.service.ValidateRedirect(r.URL.Query().Get("callbackURL"))
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	target := auth.Resolve(h.config.ClientURL, callbackURL)

	if err := h.service.CheckResetToken(r.Context(), token); err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			slog.Error("failed to check reset token", slog.String("error", err.Error()))
		}
		http.Redirect(w, r, withQuery(target, "error", model.ErrCodeInvalidToken), http.StatusFound)
		return
	}
	http.Redirect(w, r, withQuery(target, "token", token), http.StatusFound)
}

type resetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
	Token       string `json:"token"`
}

// ResetPassword はトークンを消費して新しいパスワードを設定する。
// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// クエリで渡された場合も受け付ける
	if req.Token == "" {
		req.Token = r.URL.Query().Get("token")
	}
	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: true})
}

type sendVerificationRequest struct {
	Email       string `json:"email"`
	CallbackURL string `json:"callbackURL"`
}

// SendVerificationEmail は確認メールを（再）送信する。
// POST /api/auth/send-verification-email
func (h *AuthHandler) SendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	var req sendVerificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// ログイン中で省略された場合は自分のアドレスに送る
	if req.Email == "" {
		if sess, ok := middleware.SessionFromContext(r.Context()); ok {
			req.Email = sess.User.Email
		}
	}
	if err := h.service.SendVerificationEmail(r.Context(), req.Email, req.CallbackURL); err != nil {
		middleware.WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: true})
}

// VerifyEmail は確認トークンを消費する。
// callbackURLがあればそこへリダイレクトし、失敗時は ?error= を付ける。
// GET /api/auth/verify-email?token=...&callbackURL=...
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callbackURL, err := h.service.ValidateRedirect(q.Get("callbackURL"))
	if err != nil {
		middleware.WriteServiceError(w, err)
		return
	}

	result, err := h.service.VerifyEmail(r.Context(), q.Get("token"), requestMeta(r))
	if err != nil {
		if callbackURL == "" {
			middleware.WriteServiceError(w, err)
			return
		}
		code := model.ErrCodeInvalidToken
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			code = apiErr.Code
		} else {
			slog.Error("failed to verify email", slog.String("error", err.Error()))
			code = middleware.ErrCodeInternal
		}
		http.Redirect(w, r, withQuery(auth.Resolve(h.config.ClientURL, callbackURL), "error", code), http.StatusFound)
		return
	}

	if result.Session != nil {
		middleware.SetSessionCookie(w, h.config.Cookie, result.Session, result.RememberMe)
	}
	if callbackURL != "" {
		http.Redirect(w, r, auth.Resolve(h.config.ClientURL, callbackURL), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "user": result.User})
}

// Ok は認証APIの死活確認に応答する。
// GET /api/auth/ok
func (h *AuthHandler) Ok(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ============================================================
// ヘルパー
// ============================================================

// requestMeta はセッションに記録するクライアント情報をリクエストから取り出す。
func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// mustSession はセッション必須ルートでコンテキストのセッションを返す。
// SessionMiddlewareの内側でのみ呼ぶ。
func mustSession(r *http.Request) *model.SessionWithUser {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		panic("handler: session middleware is not installed")
	}
	return sess
}

// decodeJSON はリクエストボディをvにデコードする。失敗時はエラーレスポンスを書き込んでfalseを返す。
// 空ボディはゼロ値として扱う。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewBadRequestError("リクエストボディの解析に失敗しました"))
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// withQuery はrawURLにクエリパラメータを1つ追加する。
func withQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
