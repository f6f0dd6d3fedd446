package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func mustTrustedProxies(t *testing.T, entries ...string) *TrustedProxies {
	t.Helper()
	p, err := ParseTrustedProxies(entries)
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	return p
}

func TestTrustedProxies_Resolve(t *testing.T) {
	proxies := mustTrustedProxies(t, "10.0.0.0/8", "192.0.2.200")

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr", "192.0.2.10:5555", "", "192.0.2.10"},
		{"ipv6 remote addr", "[2001:db8::1]:443", "", "2001:db8::1"},
		{"no port", "192.0.2.11", "", "192.0.2.11"},
		{"forwarded header from untrusted peer is ignored", "198.51.100.9:1", "203.0.113.5", "198.51.100.9"},
		{"forwarded through trusted proxy", "10.0.0.1:1", "198.51.100.7", "198.51.100.7"},
		{"rightmost untrusted hop wins", "10.0.0.1:1", "203.0.113.5, 198.51.100.7, 10.0.0.2", "198.51.100.7"},
		{"single trusted ip entry", "192.0.2.200:1", "198.51.100.8", "198.51.100.8"},
		{"garbage hop falls back to peer", "10.0.0.1:1", "not-an-ip", "10.0.0.1"},
		{"all hops trusted", "10.0.0.1:1", "10.0.0.3", "10.0.0.1"},
		{"unparseable remote addr", "garbage", "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := proxies.Resolve(req); got != tt.want {
				t.Errorf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTrustedProxies_RejectsInvalidEntry(t *testing.T) {
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/8", "proxy.example.com"}); err == nil {
		t.Fatal("expected error for a hostname entry")
	}
}

func TestClientIP_WithoutMiddlewareIgnoresForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")

	if got := ClientIP(req); got != "192.0.2.10" {
		t.Errorf("ClientIP = %q, want 192.0.2.10", got)
	}
}

// 保存されるIPは常に正規化済みで、長いヘッダーがそのまま入ることはない
func TestClientIP_IsBoundedAndNormalized(t *testing.T) {
	proxies := mustTrustedProxies(t, "10.0.0.0/8")
	var got string
	handler := NewClientIPMiddleware(proxies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1"
	req.Header.Set("X-Forwarded-For", strings.Repeat("a", 500)+", 0:0:0:0:0:ffff:c633:6407")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "198.51.100.7" {
		t.Errorf("ClientIP = %q, want 198.51.100.7", got)
	}
}

// 転送ヘッダーを毎回変えても、信頼済みでない接続元はまとめて制限される
func TestSensitiveRateLimit_ForwardedHeaderRotationIsLimited(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(100, 1))
	defer rl.Stop()

	handler := NewClientIPMiddleware(mustTrustedProxies(t))(rl.SensitiveMiddleware()(okHandler()))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := requestFrom("198.51.100.20:4000")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("allowed = %d, want 1", allowed)
	}
}
