package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/hr360/internal/model"
)

func TestOriginCheckMiddleware_SafeMethods_PassThrough(t *testing.T) {
	mw := NewOriginCheckMiddleware(testOrigins)

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			handlerCalled := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			}))

			req := httptest.NewRequest(method, "/api/auth/get-session", nil)
			req.Header.Set("Origin", "https://evil.example.net")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !handlerCalled {
				t.Fatalf("handler should have been called for %s request", method)
			}
		})
	}
}

func TestOriginCheckMiddleware_StateChanging(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
	}{
		{"trusted origin", map[string]string{"Origin": "http://localhost:5173"}, http.StatusOK},
		{"untrusted origin", map[string]string{"Origin": "https://evil.example.net"}, http.StatusForbidden},
		{"null origin", map[string]string{"Origin": "null"}, http.StatusForbidden},
		{"trusted referer", map[string]string{"Referer": "https://app.example.com/sign-in?x=1"}, http.StatusOK},
		{"untrusted referer", map[string]string{"Referer": "https://evil.example.net/page"}, http.StatusForbidden},
		{"origin wins over referer", map[string]string{"Origin": "https://evil.example.net", "Referer": "https://app.example.com/"}, http.StatusForbidden},
		{"no origin headers", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewOriginCheckMiddleware(testOrigins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-in/email", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				if code := decodeErrorCode(t, w); code != model.ErrCodeInvalidOrigin {
					t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidOrigin)
				}
			}
		})
	}
}
