package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hr360/internal/auth"
	"github.com/hitoshi/hr360/internal/avatar"
	"github.com/hitoshi/hr360/internal/middleware"
	"github.com/hitoshi/hr360/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	signUpEmailFn           func(ctx context.Context, in auth.SignUpInput) (*auth.AuthResult, error)
	signInEmailFn           func(ctx context.Context, in auth.SignInInput) (*auth.AuthResult, error)
	socialSignInFn          func(providerID, callbackURL, errorCallbackURL string) (*auth.SocialSignInResult, error)
	parseStateFn            func(stateCookie string) (*auth.StateClaims, error)
	handleCallbackFn        func(ctx context.Context, claims *auth.StateClaims, providerID, code, stateParam string, meta auth.RequestMeta) (*auth.AuthResult, error)
	signOutFn               func(ctx context.Context, token string) error
	listSessionsFn          func(ctx context.Context, userID string) ([]*model.Session, error)
	revokeSessionFn         func(ctx context.Context, userID, token string) error
	revokeSessionsFn        func(ctx context.Context, userID string) error
	revokeOtherSessionsFn   func(ctx context.Context, userID, currentToken string) error
	updateUserFn            func(ctx context.Context, userID string, in auth.UpdateUserInput) (*model.User, error)
	changePasswordFn        func(ctx context.Context, userID string, in auth.ChangePasswordInput) (*model.Session, error)
	deleteUserFn            func(ctx context.Context, userID, password string) error
	requestPasswordResetFn  func(ctx context.Context, email, redirectTo string) error
	checkResetTokenFn       func(ctx context.Context, token string) error
	resetPasswordFn         func(ctx context.Context, token, newPassword string) error
	sendVerificationEmailFn func(ctx context.Context, email, callbackURL string) error
	verifyEmailFn           func(ctx context.Context, token string, meta auth.RequestMeta) (*auth.AuthResult, error)
	validateRedirectFn      func(raw string) (string, error)
}

func (m *mockAuthService) SignUpEmail(ctx context.Context, in auth.SignUpInput) (*auth.AuthResult, error) {
	if m.signUpEmailFn != nil {
		return m.signUpEmailFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) SignInEmail(ctx context.Context, in auth.SignInInput) (*auth.AuthResult, error) {
	if m.signInEmailFn != nil {
		return m.signInEmailFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) SocialSignIn(providerID, callbackURL, errorCallbackURL string) (*auth.SocialSignInResult, error) {
	if m.socialSignInFn != nil {
		return m.socialSignInFn(providerID, callbackURL, errorCallbackURL)
	}
	return nil, nil
}

func (m *mockAuthService) ParseState(stateCookie string) (*auth.StateClaims, error) {
	if m.parseStateFn != nil {
		return m.parseStateFn(stateCookie)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) HandleCallback(ctx context.Context, claims *auth.StateClaims, providerID, code, stateParam string, meta auth.RequestMeta) (*auth.AuthResult, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, claims, providerID, code, stateParam, meta)
	}
	return nil, nil
}

func (m *mockAuthService) IsPersistent(session *model.Session) bool {
	return true
}

func (m *mockAuthService) SignOut(ctx context.Context, token string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) ListSessions(ctx context.Context, userID string) ([]*model.Session, error) {
	if m.listSessionsFn != nil {
		return m.listSessionsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockAuthService) RevokeSession(ctx context.Context, userID, token string) error {
	if m.revokeSessionFn != nil {
		return m.revokeSessionFn(ctx, userID, token)
	}
	return nil
}

func (m *mockAuthService) RevokeSessions(ctx context.Context, userID string) error {
	if m.revokeSessionsFn != nil {
		return m.revokeSessionsFn(ctx, userID)
	}
	return nil
}

func (m *mockAuthService) RevokeOtherSessions(ctx context.Context, userID, currentToken string) error {
	if m.revokeOtherSessionsFn != nil {
		return m.revokeOtherSessionsFn(ctx, userID, currentToken)
	}
	return nil
}

func (m *mockAuthService) UpdateUser(ctx context.Context, userID string, in auth.UpdateUserInput) (*model.User, error) {
	if m.updateUserFn != nil {
		return m.updateUserFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockAuthService) ChangePassword(ctx context.Context, userID string, in auth.ChangePasswordInput) (*model.Session, error) {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockAuthService) DeleteUser(ctx context.Context, userID, password string) error {
	if m.deleteUserFn != nil {
		return m.deleteUserFn(ctx, userID, password)
	}
	return nil
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	if m.requestPasswordResetFn != nil {
		return m.requestPasswordResetFn(ctx, email, redirectTo)
	}
	return nil
}

func (m *mockAuthService) CheckResetToken(ctx context.Context, token string) error {
	if m.checkResetTokenFn != nil {
		return m.checkResetTokenFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, token, newPassword)
	}
	return nil
}

func (m *mockAuthService) SendVerificationEmail(ctx context.Context, email, callbackURL string) error {
	if m.sendVerificationEmailFn != nil {
		return m.sendVerificationEmailFn(ctx, email, callbackURL)
	}
	return nil
}

func (m *mockAuthService) VerifyEmail(ctx context.Context, token string, meta auth.RequestMeta) (*auth.AuthResult, error) {
	if m.verifyEmailFn != nil {
		return m.verifyEmailFn(ctx, token, meta)
	}
	return nil, nil
}

func (m *mockAuthService) ValidateRedirect(raw string) (string, error) {
	if m.validateRedirectFn != nil {
		return m.validateRedirectFn(raw)
	}
	return raw, nil
}

type mockPresigner struct {
	presignFn func(ctx context.Context, userID, contentType string) (*avatar.UploadURL, error)
}

func (m *mockPresigner) PresignUpload(ctx context.Context, userID, contentType string) (*avatar.UploadURL, error) {
	return m.presignFn(ctx, userID, contentType)
}

// --- ヘルパー ---

var testHandlerConfig = AuthHandlerConfig{
	ClientURL: "http://localhost:5173",
	Cookie:    middleware.CookieConfig{},
}

func testUser() *model.User {
	return &model.User{ID: "user-123", Name: "Taro", Email: "taro@example.com"}
}

func testSession(token string) *model.Session {
	return &model.Session{
		ID:        "sess-" + token,
		Token:     token,
		UserID:    "user-123",
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
}

// withSession はセッションミドルウェア通過後と同じコンテキストを持つリクエストを返す。
func withSession(req *http.Request, token string) *http.Request {
	sess := &model.SessionWithUser{Session: testSession(token), User: testUser()}
	return req.WithContext(middleware.ContextWithSession(req.Context(), sess))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Code
}

// --- メール/パスワード ---

func TestAuthHandler_SignUpEmail_SetsCookieAndReturnsToken(t *testing.T) {
	svc := &mockAuthService{
		signUpEmailFn: func(ctx context.Context, in auth.SignUpInput) (*auth.AuthResult, error) {
			if in.Email != "taro@example.com" || in.Password != "password123" || in.Name != "Taro" {
				t.Errorf("unexpected input: %+v", in)
			}
			if in.Meta.UserAgent != "test-agent" {
				t.Errorf("UserAgent = %q, want test-agent", in.Meta.UserAgent)
			}
			return &auth.AuthResult{User: testUser(), Session: testSession("tok-1"), RememberMe: true}, nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	req := jsonRequest(http.MethodPost, "/api/auth/sign-up/email", `{"name":"Taro","email":"taro@example.com","password":"password123"}`)
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	h.SignUpEmail(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	cookie := findCookie(resp, middleware.SessionCookieName)
	if cookie == nil || cookie.Value != "tok-1" {
		t.Fatalf("session cookie = %+v, want tok-1", cookie)
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}

	var body struct {
		Token *string     `json:"token"`
		User  *model.User `json:"user"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Token == nil || *body.Token != "tok-1" {
		t.Errorf("token = %v, want tok-1", body.Token)
	}
	if body.User == nil || body.User.ID != "user-123" {
		t.Errorf("user = %+v", body.User)
	}
}

func TestAuthHandler_SignUpEmail_DuplicateEmail_Returns422(t *testing.T) {
	svc := &mockAuthService{
		signUpEmailFn: func(ctx context.Context, in auth.SignUpInput) (*auth.AuthResult, error) {
			return nil, model.NewUserAlreadyExistsError()
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.SignUpEmail(w, jsonRequest(http.MethodPost, "/api/auth/sign-up/email", `{"name":"a","email":"a@example.com","password":"password123"}`))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeUserAlreadyExists {
		t.Errorf("code = %q, want %q", code, model.ErrCodeUserAlreadyExists)
	}
}

func TestAuthHandler_SignUpEmail_VerificationRequired_NoCookie(t *testing.T) {
	svc := &mockAuthService{
		signUpEmailFn: func(ctx context.Context, in auth.SignUpInput) (*auth.AuthResult, error) {
			return &auth.AuthResult{User: testUser()}, nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.SignUpEmail(w, jsonRequest(http.MethodPost, "/api/auth/sign-up/email", `{"name":"a","email":"a@example.com","password":"password123"}`))

	if findCookie(w.Result(), middleware.SessionCookieName) != nil {
		t.Error("session cookie should not be set before email verification")
	}
	if !strings.Contains(w.Body.String(), `"token":null`) {
		t.Errorf("body = %s, want token null", w.Body.String())
	}
}

func TestAuthHandler_SignUpEmail_InvalidJSON_Returns400(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.SignUpEmail(w, jsonRequest(http.MethodPost, "/api/auth/sign-up/email", `{"name":`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if code := decodeErrorCode(t, w); code != model.ErrCodeBadRequest {
		t.Errorf("code = %q, want %q", code, model.ErrCodeBadRequest)
	}
}

func TestAuthHandler_SignInEmail_RememberMeDefaultsToTrue(t *testing.T) {
	var got bool
	svc := &mockAuthService{
		signInEmailFn: func(ctx context.Context, in auth.SignInInput) (*auth.AuthResult, error) {
			got = in.RememberMe
			return &auth.AuthResult{User: testUser(), Session: testSession("tok-2"), RememberMe: in.RememberMe}, nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.SignInEmail(w, jsonRequest(http.MethodPost, "/api/auth/sign-in/email", `{"email":"taro@example.com","password":"password123","callbackURL":"/home"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !got {
		t.Error("RememberMe should default to true")
	}
	cookie := findCookie(w.Result(), middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge <= 0 {
		t.Errorf("remembered session cookie should be persistent, got %+v", cookie)
	}
	if !strings.Contains(w.Body.String(), `"url":"http://localhost:5173/home"`) {
		t.Errorf("body = %s, want resolved callback url", w.Body.String())
	}
}

func TestAuthHandler_SignInEmail_NotRemembered_BrowserSessionCookie(t *testing.T) {
	svc := &mockAuthService{
		signInEmailFn: func(ctx context.Context, in auth.SignInInput) (*auth.AuthResult, error) {
			return &auth.AuthResult{User: testUser(), Session: testSession("tok-3"), RememberMe: in.RememberMe}, nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.SignInEmail(w, jsonRequest(http.MethodPost, "/api/auth/sign-in/email", `{"email":"a@example.com","password":"password123","rememberMe":false}`))

	cookie := findCookie(w.Result(), middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if cookie.MaxAge != 0 || !cookie.Expires.IsZero() {
		t.Errorf("cookie should be a browser session cookie, got MaxAge=%d Expires=%v", cookie.MaxAge, cookie.Expires)
	}
}

func TestAuthHandler_SignInEmail_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"wrong password", model.NewInvalidEmailOrPasswordError(), http.StatusUnauthorized, model.ErrCodeInvalidEmailOrPassword},
		{"not verified", model.NewEmailNotVerifiedError(), http.StatusForbidden, model.ErrCodeEmailNotVerified},
		{"bad callback", model.NewInvalidCallbackURLError(), http.StatusForbidden, model.ErrCodeInvalidCallbackURL},
		{"internal", errors.New("db down"), http.StatusInternalServerError, middleware.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				signInEmailFn: func(ctx context.Context, in auth.SignInInput) (*auth.AuthResult, error) {
					return nil, tt.err
				},
			}
			h := NewAuthHandler(svc, nil, testHandlerConfig)

			w := httptest.NewRecorder()
			h.SignInEmail(w, jsonRequest(http.MethodPost, "/api/auth/sign-in/email", `{"email":"a@example.com","password":"x"}`))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if code := decodeErrorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if findCookie(w.Result(), middleware.SessionCookieName) != nil {
				t.Error("session cookie should not be set on failure")
			}
		})
	}
}

// --- ソーシャルログイン ---

func TestAuthHandler_SocialSignIn_POST_ReturnsURLAndStateCookie(t *testing.T) {
	svc := &mockAuthService{
		socialSignInFn: func(providerID, callbackURL, errorCallbackURL string) (*auth.SocialSignInResult, error) {
			if providerID != "google" || callbackURL != "/dashboard" {
				t.Errorf("provider=%q callback=%q", providerID, callbackURL)
			}
			return &auth.SocialSignInResult{URL: "https://accounts.google.com/o/oauth2/auth?state=n1", StateCookie: "signed-state"}, nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.SocialSignIn(w, jsonRequest(http.MethodPost, "/api/auth/sign-in/social", `{"provider":"google","callbackURL":"/dashboard"}`))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body socialSignInResponse
	json.NewDecoder(w.Body).Decode(&body)
	if !strings.HasPrefix(body.URL, "https://accounts.google.com/") || !body.Redirect {
		t.Errorf("body = %+v", body)
	}
	cookie := findCookie(resp, oauthStateCookie)
	if cookie == nil || cookie.Value != "signed-state" || !cookie.HttpOnly {
		t.Errorf("state cookie = %+v", cookie)
	}
}

func TestAuthHandler_SocialSignIn_GET_Redirects(t *testing.T) {
	svc := &mockAuthService{
		socialSignInFn: func(providerID, callbackURL, errorCallbackURL string) (*auth.SocialSignInResult, error) {
			return &auth.SocialSignInResult{URL: "https://accounts.google.com/o/oauth2/auth", StateCookie: "s"}, nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.SocialSignIn(w, httptest.NewRequest(http.MethodGet, "/api/auth/sign-in/social?provider=google", nil))

	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "https://accounts.google.com/") {
		t.Errorf("Location = %q", loc)
	}
}

func TestAuthHandler_SocialSignIn_Errors(t *testing.T) {
	t.Run("missing provider", func(t *testing.T) {
		h := NewAuthHandler(&mockAuthService{}, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.SocialSignIn(w, jsonRequest(http.MethodPost, "/api/auth/sign-in/social", `{}`))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		svc := &mockAuthService{
			socialSignInFn: func(providerID, callbackURL, errorCallbackURL string) (*auth.SocialSignInResult, error) {
				return nil, model.NewProviderNotFoundError(providerID)
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.SocialSignIn(w, jsonRequest(http.MethodPost, "/api/auth/sign-in/social", `{"provider":"github"}`))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

// callbackRequest はchiのURLパラメータ付きでコールバックリクエストを生成する。
func callbackRequest(query string, stateCookie string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback/google?"+query, nil)
	if stateCookie != "" {
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: stateCookie})
	}
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("provider", "google")
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestAuthHandler_Callback_Success_SetsCookieAndRedirects(t *testing.T) {
	claims := &auth.StateClaims{Provider: "google", Nonce: "n1", CallbackURL: "/dashboard"}
	svc := &mockAuthService{
		parseStateFn: func(stateCookie string) (*auth.StateClaims, error) {
			if stateCookie != "signed-state" {
				t.Errorf("stateCookie = %q", stateCookie)
			}
			return claims, nil
		},
		handleCallbackFn: func(ctx context.Context, c *auth.StateClaims, providerID, code, stateParam string, meta auth.RequestMeta) (*auth.AuthResult, error) {
			if c != claims || providerID != "google" || code != "auth-code" || stateParam != "n1" {
				t.Errorf("unexpected args: provider=%q code=%q state=%q", providerID, code, stateParam)
			}
			return &auth.AuthResult{User: testUser(), Session: testSession("tok-g"), RememberMe: true}, nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("code=auth-code&state=n1", "signed-state"))

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "http://localhost:5173/dashboard" {
		t.Errorf("Location = %q", loc)
	}
	if c := findCookie(resp, middleware.SessionCookieName); c == nil || c.Value != "tok-g" {
		t.Errorf("session cookie = %+v", c)
	}
	if c := findCookie(resp, oauthStateCookie); c == nil || c.MaxAge >= 0 {
		t.Errorf("state cookie should be cleared, got %+v", c)
	}
}

func TestAuthHandler_Callback_MissingStateCookie_RedirectsWithError(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("code=c&state=n1", ""))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	loc, _ := url.Parse(w.Header().Get("Location"))
	if loc.Query().Get("error") != "state_not_found" {
		t.Errorf("Location = %q, want error=state_not_found", loc)
	}
	if findCookie(w.Result(), middleware.SessionCookieName) != nil {
		t.Error("session cookie should not be set")
	}
}

func TestAuthHandler_Callback_ServiceError_UsesErrorCallbackURL(t *testing.T) {
	svc := &mockAuthService{
		parseStateFn: func(string) (*auth.StateClaims, error) {
			return &auth.StateClaims{Provider: "google", Nonce: "n1", CallbackURL: "/dashboard", ErrorCallbackURL: "/sign-in"}, nil
		},
		handleCallbackFn: func(ctx context.Context, c *auth.StateClaims, providerID, code, stateParam string, meta auth.RequestMeta) (*auth.AuthResult, error) {
			return nil, model.NewBadRequestError("state が一致しません")
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("code=c&state=other", "signed"))

	want := "http://localhost:5173/sign-in?error=" + model.ErrCodeBadRequest
	if loc := w.Header().Get("Location"); loc != want {
		t.Errorf("Location = %q, want %q", loc, want)
	}
}

func TestAuthHandler_Callback_IdPDenied(t *testing.T) {
	called := false
	svc := &mockAuthService{
		parseStateFn: func(string) (*auth.StateClaims, error) {
			return &auth.StateClaims{Provider: "google", Nonce: "n1", CallbackURL: "/dashboard"}, nil
		},
		handleCallbackFn: func(ctx context.Context, c *auth.StateClaims, providerID, code, stateParam string, meta auth.RequestMeta) (*auth.AuthResult, error) {
			called = true
			return nil, nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.Callback(w, callbackRequest("error=access_denied&state=n1", "signed"))

	if called {
		t.Error("HandleCallback should not be called when the IdP returns an error")
	}
	if loc := w.Header().Get("Location"); loc != "http://localhost:5173/dashboard?error=access_denied" {
		t.Errorf("Location = %q", loc)
	}
}

// --- セッション ---

func TestAuthHandler_SignOut_ClearsCookie(t *testing.T) {
	var revoked string
	svc := &mockAuthService{
		signOutFn: func(ctx context.Context, token string) error {
			revoked = token
			return errors.New("db error")
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-out", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "tok-out"})
	w := httptest.NewRecorder()
	h.SignOut(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if revoked != "tok-out" {
		t.Errorf("revoked token = %q, want tok-out", revoked)
	}
	// サービスが失敗してもCookieはクリアされる
	if c := findCookie(w.Result(), middleware.SessionCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", c)
	}
}

func TestAuthHandler_GetSession(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nil, testHandlerConfig)

	t.Run("no session returns null", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.GetSession(w, httptest.NewRequest(http.MethodGet, "/api/auth/get-session", nil))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		if strings.TrimSpace(w.Body.String()) != "null" {
			t.Errorf("body = %q, want null", w.Body.String())
		}
	})

	t.Run("with session", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.GetSession(w, withSession(httptest.NewRequest(http.MethodGet, "/api/auth/get-session", nil), "tok-s"))
		var body model.SessionWithUser
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.User == nil || body.User.ID != "user-123" || body.Session.Token != "tok-s" {
			t.Errorf("body = %+v", body)
		}
	})
}

func TestAuthHandler_ListSessions(t *testing.T) {
	svc := &mockAuthService{
		listSessionsFn: func(ctx context.Context, userID string) ([]*model.Session, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q", userID)
			}
			return []*model.Session{testSession("a"), testSession("b")}, nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.ListSessions(w, withSession(httptest.NewRequest(http.MethodGet, "/api/auth/list-sessions", nil), "a"))

	var sessions []model.Session
	json.NewDecoder(w.Body).Decode(&sessions)
	if len(sessions) != 2 {
		t.Errorf("len(sessions) = %d, want 2", len(sessions))
	}
}

func TestAuthHandler_RevokeSession(t *testing.T) {
	t.Run("other session keeps cookie", func(t *testing.T) {
		svc := &mockAuthService{
			revokeSessionFn: func(ctx context.Context, userID, token string) error {
				if userID != "user-123" || token != "other" {
					t.Errorf("userID=%q token=%q", userID, token)
				}
				return nil
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.RevokeSession(w, withSession(jsonRequest(http.MethodPost, "/api/auth/revoke-session", `{"token":"other"}`), "current"))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		if findCookie(w.Result(), middleware.SessionCookieName) != nil {
			t.Error("cookie should not change when revoking another session")
		}
	})

	t.Run("current session clears cookie", func(t *testing.T) {
		h := NewAuthHandler(&mockAuthService{}, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.RevokeSession(w, withSession(jsonRequest(http.MethodPost, "/api/auth/revoke-session", `{"token":"current"}`), "current"))

		if c := findCookie(w.Result(), middleware.SessionCookieName); c == nil || c.MaxAge >= 0 {
			t.Errorf("cookie should be cleared, got %+v", c)
		}
	})

	t.Run("not own session", func(t *testing.T) {
		svc := &mockAuthService{
			revokeSessionFn: func(ctx context.Context, userID, token string) error {
				return model.NewSessionNotFoundError()
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.RevokeSession(w, withSession(jsonRequest(http.MethodPost, "/api/auth/revoke-session", `{"token":"x"}`), "current"))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		h := NewAuthHandler(&mockAuthService{}, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.RevokeSession(w, withSession(jsonRequest(http.MethodPost, "/api/auth/revoke-session", `{}`), "current"))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestAuthHandler_RevokeOtherSessions_PassesCurrentToken(t *testing.T) {
	var gotToken string
	svc := &mockAuthService{
		revokeOtherSessionsFn: func(ctx context.Context, userID, currentToken string) error {
			gotToken = currentToken
			return nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.RevokeOtherSessions(w, withSession(httptest.NewRequest(http.MethodPost, "/api/auth/revoke-other-sessions", nil), "keep-me"))

	if gotToken != "keep-me" {
		t.Errorf("currentToken = %q, want keep-me", gotToken)
	}
}

// --- ユーザー情報 ---

func TestAuthHandler_UpdateUser_PassesOnlyProvidedFields(t *testing.T) {
	svc := &mockAuthService{
		updateUserFn: func(ctx context.Context, userID string, in auth.UpdateUserInput) (*model.User, error) {
			if in.Name == nil || *in.Name != "Hanako" {
				t.Errorf("Name = %v, want Hanako", in.Name)
			}
			if in.Image != nil {
				t.Errorf("Image = %v, want nil", *in.Image)
			}
			u := testUser()
			u.Name = *in.Name
			return u, nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.UpdateUser(w, withSession(jsonRequest(http.MethodPost, "/api/auth/update-user", `{"name":"Hanako"}`), "tok"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"name":"Hanako"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAuthHandler_ChangePassword_RevokeOthers_IssuesNewCookie(t *testing.T) {
	svc := &mockAuthService{
		changePasswordFn: func(ctx context.Context, userID string, in auth.ChangePasswordInput) (*model.Session, error) {
			if !in.RevokeOtherSessions || in.CurrentPassword != "old-password" || in.NewPassword != "new-password" {
				t.Errorf("unexpected input: %+v", in)
			}
			return testSession("tok-new"), nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.ChangePassword(w, withSession(jsonRequest(http.MethodPost, "/api/auth/change-password",
		`{"currentPassword":"old-password","newPassword":"new-password","revokeOtherSessions":true}`), "tok-old"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if c := findCookie(w.Result(), middleware.SessionCookieName); c == nil || c.Value != "tok-new" {
		t.Errorf("session cookie = %+v, want tok-new", c)
	}
}

func TestAuthHandler_ChangePassword_WrongCurrent_Returns400(t *testing.T) {
	svc := &mockAuthService{
		changePasswordFn: func(ctx context.Context, userID string, in auth.ChangePasswordInput) (*model.Session, error) {
			return nil, model.NewInvalidPasswordError()
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.ChangePassword(w, withSession(jsonRequest(http.MethodPost, "/api/auth/change-password", `{"currentPassword":"x","newPassword":"new-password"}`), "tok"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if c := findCookie(w.Result(), middleware.SessionCookieName); c != nil {
		t.Errorf("cookie should not change, got %+v", c)
	}
}

func TestAuthHandler_DeleteUser(t *testing.T) {
	var gotPassword string
	svc := &mockAuthService{
		deleteUserFn: func(ctx context.Context, userID, password string) error {
			gotPassword = password
			return nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.DeleteUser(w, withSession(jsonRequest(http.MethodPost, "/api/auth/delete-user", `{"password":"password123"}`), "tok"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotPassword != "password123" {
		t.Errorf("password = %q", gotPassword)
	}
	if c := findCookie(w.Result(), middleware.SessionCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("cookie should be cleared, got %+v", c)
	}
}

func TestAuthHandler_AvatarUploadURL(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := NewAuthHandler(&mockAuthService{}, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.AvatarUploadURL(w, withSession(jsonRequest(http.MethodPost, "/api/auth/avatar/upload-url", `{"contentType":"image/png"}`), "tok"))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})

	t.Run("presigned", func(t *testing.T) {
		presigner := &mockPresigner{
			presignFn: func(ctx context.Context, userID, contentType string) (*avatar.UploadURL, error) {
				if userID != "user-123" || contentType != "image/png" {
					t.Errorf("userID=%q contentType=%q", userID, contentType)
				}
				return &avatar.UploadURL{Key: "avatars/user-123/a.png", UploadURL: "https://s3.example.com/put", PublicURL: "https://cdn.example.com/avatars/user-123/a.png", Method: http.MethodPut}, nil
			},
		}
		h := NewAuthHandler(&mockAuthService{}, presigner, testHandlerConfig)
		w := httptest.NewRecorder()
		h.AvatarUploadURL(w, withSession(jsonRequest(http.MethodPost, "/api/auth/avatar/upload-url", `{"contentType":"image/png"}`), "tok"))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"uploadUrl":"https://s3.example.com/put"`) {
			t.Errorf("body = %s", w.Body.String())
		}
	})

	t.Run("unsupported type", func(t *testing.T) {
		presigner := &mockPresigner{
			presignFn: func(ctx context.Context, userID, contentType string) (*avatar.UploadURL, error) {
				return nil, avatar.ErrUnsupportedContentType
			},
		}
		h := NewAuthHandler(&mockAuthService{}, presigner, testHandlerConfig)
		w := httptest.NewRecorder()
		h.AvatarUploadURL(w, withSession(jsonRequest(http.MethodPost, "/api/auth/avatar/upload-url", `{"contentType":"text/html"}`), "tok"))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

// --- パスワードリセット / メールアドレス確認 ---

func TestAuthHandler_RequestPasswordReset_AlwaysSucceeds(t *testing.T) {
	var gotEmail, gotRedirect string
	svc := &mockAuthService{
		requestPasswordResetFn: func(ctx context.Context, email, redirectTo string) error {
			gotEmail, gotRedirect = email, redirectTo
			return nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.RequestPasswordReset(w, jsonRequest(http.MethodPost, "/api/auth/request-password-reset", `{"email":"nobody@example.com","redirectTo":"/reset"}`))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if gotEmail != "nobody@example.com" || gotRedirect != "/reset" {
		t.Errorf("email=%q redirectTo=%q", gotEmail, gotRedirect)
	}
	if !strings.Contains(w.Body.String(), `"status":true`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func resetLinkRequest(token, query string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/reset-password/"+token+"?"+query, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("token", token)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestAuthHandler_ResetPasswordCallback(t *testing.T) {
	t.Run("valid token redirects with token", func(t *testing.T) {
		svc := &mockAuthService{
			checkResetTokenFn: func(ctx context.Context, token string) error {
				if token != "reset-tok" {
					t.Errorf("token = %q", token)
				}
				return nil
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.ResetPasswordCallback(w, resetLinkRequest("reset-tok", "callbackURL=%2Freset-password"))

		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "http://localhost:5173/reset-password?token=reset-tok" {
			t.Errorf("Location = %q", loc)
		}
	})

	t.Run("invalid token redirects with error", func(t *testing.T) {
		svc := &mockAuthService{
			checkResetTokenFn: func(ctx context.Context, token string) error {
				return model.NewInvalidTokenError()
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.ResetPasswordCallback(w, resetLinkRequest("used", "callbackURL=%2Freset-password"))

		if loc := w.Header().Get("Location"); loc != "http://localhost:5173/reset-password?error=INVALID_TOKEN" {
			t.Errorf("Location = %q", loc)
		}
	})

	t.Run("untrusted callback", func(t *testing.T) {
		svc := &mockAuthService{
			validateRedirectFn: func(raw string) (string, error) {
				return "", model.NewInvalidCallbackURLError()
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.ResetPasswordCallback(w, resetLinkRequest("tok", "callbackURL=https%3A%2F%2Fevil.example.com"))

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
	})
}

func TestAuthHandler_ResetPassword(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &mockAuthService{
			resetPasswordFn: func(ctx context.Context, token, newPassword string) error {
				if token != "reset-tok" || newPassword != "new-password" {
					t.Errorf("token=%q newPassword=%q", token, newPassword)
				}
				return nil
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.ResetPassword(w, jsonRequest(http.MethodPost, "/api/auth/reset-password", `{"token":"reset-tok","newPassword":"new-password"}`))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("token from query", func(t *testing.T) {
		var got string
		svc := &mockAuthService{
			resetPasswordFn: func(ctx context.Context, token, newPassword string) error {
				got = token
				return nil
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.ResetPassword(w, jsonRequest(http.MethodPost, "/api/auth/reset-password?token=q-tok", `{"newPassword":"new-password"}`))
		if got != "q-tok" {
			t.Errorf("token = %q, want q-tok", got)
		}
	})

	t.Run("used token", func(t *testing.T) {
		svc := &mockAuthService{
			resetPasswordFn: func(ctx context.Context, token, newPassword string) error {
				return model.NewInvalidTokenError()
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.ResetPassword(w, jsonRequest(http.MethodPost, "/api/auth/reset-password", `{"token":"used","newPassword":"new-password"}`))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		if code := decodeErrorCode(t, w); code != model.ErrCodeInvalidToken {
			t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidToken)
		}
	})
}

func TestAuthHandler_SendVerificationEmail_DefaultsToSessionEmail(t *testing.T) {
	var got string
	svc := &mockAuthService{
		sendVerificationEmailFn: func(ctx context.Context, email, callbackURL string) error {
			got = email
			return nil
		},
	}
	h := NewAuthHandler(svc, nil, testHandlerConfig)

	w := httptest.NewRecorder()
	h.SendVerificationEmail(w, withSession(jsonRequest(http.MethodPost, "/api/auth/send-verification-email", `{}`), "tok"))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got != "taro@example.com" {
		t.Errorf("email = %q, want session email", got)
	}
}

func TestAuthHandler_VerifyEmail(t *testing.T) {
	t.Run("json without callback", func(t *testing.T) {
		svc := &mockAuthService{
			verifyEmailFn: func(ctx context.Context, token string, meta auth.RequestMeta) (*auth.AuthResult, error) {
				u := testUser()
				u.EmailVerified = true
				return &auth.AuthResult{User: u}, nil
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.VerifyEmail(w, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token=v-tok", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"emailVerified":true`) {
			t.Errorf("body = %s", w.Body.String())
		}
		if findCookie(w.Result(), middleware.SessionCookieName) != nil {
			t.Error("no session cookie expected without auto sign-in")
		}
	})

	t.Run("auto sign-in redirects with cookie", func(t *testing.T) {
		svc := &mockAuthService{
			verifyEmailFn: func(ctx context.Context, token string, meta auth.RequestMeta) (*auth.AuthResult, error) {
				return &auth.AuthResult{User: testUser(), Session: testSession("tok-v"), RememberMe: true}, nil
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.VerifyEmail(w, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token=v-tok&callbackURL=%2Fdashboard", nil))

		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "http://localhost:5173/dashboard" {
			t.Errorf("Location = %q", loc)
		}
		if c := findCookie(w.Result(), middleware.SessionCookieName); c == nil || c.Value != "tok-v" {
			t.Errorf("session cookie = %+v", c)
		}
	})

	t.Run("invalid token with callback", func(t *testing.T) {
		svc := &mockAuthService{
			verifyEmailFn: func(ctx context.Context, token string, meta auth.RequestMeta) (*auth.AuthResult, error) {
				return nil, model.NewInvalidTokenError()
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.VerifyEmail(w, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token=bad&callbackURL=%2Fdashboard", nil))

		if loc := w.Header().Get("Location"); loc != "http://localhost:5173/dashboard?error=INVALID_TOKEN" {
			t.Errorf("Location = %q", loc)
		}
	})

	t.Run("invalid token without callback", func(t *testing.T) {
		svc := &mockAuthService{
			verifyEmailFn: func(ctx context.Context, token string, meta auth.RequestMeta) (*auth.AuthResult, error) {
				return nil, model.NewInvalidTokenError()
			},
		}
		h := NewAuthHandler(svc, nil, testHandlerConfig)
		w := httptest.NewRecorder()
		h.VerifyEmail(w, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token=bad", nil))

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestWithQuery(t *testing.T) {
	tests := []struct {
		raw, key, value, want string
	}{
		{"http://localhost:5173/sign-in", "error", "x", "http://localhost:5173/sign-in?error=x"},
		{"http://localhost:5173/reset?lang=ja", "token", "t", "http://localhost:5173/reset?lang=ja&token=t"},
		{"/relative", "error", "a b", "/relative?error=a+b"},
	}
	for _, tt := range tests {
		if got := withQuery(tt.raw, tt.key, tt.value); got != tt.want {
			t.Errorf("withQuery(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
