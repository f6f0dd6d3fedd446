package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// generateToken はnバイトの暗号的に安全な乱数を16進文字列で返す。
func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// generateSessionToken は256bitのセッショントークンを生成する。
func generateSessionToken() (string, error) {
	return generateToken(32)
}

// HashToken は単回使用トークンの保存用ハッシュ（SHA-256、16進）を返す。
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// newCodeVerifier はPKCEのcode_verifierを生成する（RFC 7636: 43〜128文字）。
func newCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// s256Challenge はcode_verifierからS256方式のcode_challengeを計算する。
func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
