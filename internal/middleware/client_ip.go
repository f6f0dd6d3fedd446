package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type clientIPContextKey struct{}

// unknownClientIP はRemoteAddrが解釈できない場合のクライアントIP。
const unknownClientIP = "unknown"

// TrustedProxies はX-Forwarded-Forを信頼するリバースプロキシのネットワーク一覧。
// nilまたは空の場合はX-Forwarded-Forを一切使わない。
type TrustedProxies struct {
	networks []*net.IPNet
}

// ParseTrustedProxies はCIDRまたはIPアドレスの一覧からTrustedProxiesを生成する。
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	p := &TrustedProxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy: %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			p.networks = append(p.networks, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy: %q: %w", entry, err)
		}
		p.networks = append(p.networks, network)
	}
	return p, nil
}

func (p *TrustedProxies) trusts(ip net.IP) bool {
	if p == nil {
		return false
	}
	for _, network := range p.networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve はリクエストのクライアントIPを返す。
// 接続元が信頼済みプロキシの場合だけX-Forwarded-Forを右から辿り、
// 最初に現れた信頼済みでないアドレスを採用する。戻り値は常に正規化したIPか"unknown"。
func (p *TrustedProxies) Resolve(r *http.Request) string {
	peer := remoteIP(r.RemoteAddr)
	if peer == nil {
		return unknownClientIP
	}
	if !p.trusts(peer) {
		return peer.String()
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			break
		}
		if !p.trusts(ip) {
			return ip.String()
		}
	}
	return peer.String()
}

func remoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}

// NewClientIPMiddleware はクライアントIPを1回だけ解決してコンテキストに保存するミドルウェアを返す。
// レート制限とセッションのIP記録は同じ値を使う。
func NewClientIPMiddleware(proxies *TrustedProxies) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPContextKey{}, proxies.Resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP はNewClientIPMiddlewareが解決したクライアントIPを返す。
// ミドルウェアを通っていない場合はRemoteAddrだけから求める。
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPContextKey{}).(string); ok {
		return ip
	}
	return (*TrustedProxies)(nil).Resolve(r)
}
