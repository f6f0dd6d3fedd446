package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders_NoStoreOnAuthAndRPC(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		path        string
		wantNoStore bool
	}{
		{"/api/auth/get-session", true},
		{"/trpc/user.getUser", true},
		{"/health", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Header().Get("X-Frame-Options") != "DENY" {
				t.Error("X-Frame-Options should be DENY")
			}
			got := w.Header().Get("Cache-Control") == "no-store"
			if got != tt.wantNoStore {
				t.Errorf("Cache-Control no-store = %v, want %v", got, tt.wantNoStore)
			}
		})
	}
}
