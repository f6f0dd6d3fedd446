package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/hr360/internal/model"
)

// bcryptCost はパスワードハッシュのコスト。
const bcryptCost = 10

// prehash はbcryptの72バイト制限を超える長いパスワードを扱うため、
// SHA-256のbase64表現（44バイト）に変換してからbcryptに渡す。
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// HashPassword はパスワードをbcryptでハッシュ化する。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword はパスワードがハッシュと一致するかを返す。
// ハッシュが空または不正な場合もfalseを返す。
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}

// validatePasswordLength はパスワードの文字数を検証する。
func validatePasswordLength(password string, min, max int) error {
	n := utf8.RuneCountInString(password)
	if n < min {
		return model.NewPasswordTooShortError(min)
	}
	if n > max {
		return model.NewPasswordTooLongError(max)
	}
	return nil
}
