// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"time"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
// リポジトリ実装（Mongo/Postgres）はどちらもこのエラーを返す。
var ErrDuplicateEmail = errors.New("email already registered")

// User はダッシュボード利用ユーザーを表す。
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"` // 小文字に正規化して保存する
	EmailVerified bool      `json:"emailVerified"`
	Image         string    `json:"image,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// プロバイダーID
const (
	ProviderCredential = "credential"
	ProviderGoogle     = "google"
)

// Account はユーザーと認証情報ソース（パスワードまたは外部IdP）の紐付けを表す。
// 1ユーザーはプロバイダーごとに最大1つのアカウントを持つ。
type Account struct {
	ID                    string
	UserID                string
	AccountID             string // IdPのsub、credentialの場合はユーザーID
	ProviderID            string
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  *time.Time
	RefreshTokenExpiresAt *time.Time
	Scope                 string
	IDToken               string
	Password              string // bcryptハッシュ。credentialアカウントのみ
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Session はユーザーのログインセッションを表す。
// 有効性は使用時に遅延評価する（ExpiresAt経過 or ストアから削除済みなら無効）。
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// RememberMe がfalseのセッションは短期セッションとして扱い、延長しない。
	RememberMe bool `json:"-"`
}

// SessionStatus はセッションの状態を表す。
type SessionStatus string

const (
	// SessionStatusActive は有効なセッション。
	SessionStatusActive SessionStatus = "active"
	// SessionStatusExpired は有効期限を過ぎたセッション。
	SessionStatusExpired SessionStatus = "expired"
)

// Status は指定時刻におけるセッションの状態を返す。
// 失効（revoked）はストアからの削除で表現するため、ここでは扱わない。
func (s *Session) Status(now time.Time) SessionStatus {
	if !now.Before(s.ExpiresAt) {
		return SessionStatusExpired
	}
	return SessionStatusActive
}

// SessionWithUser はセッションとその所有ユーザーの組。
type SessionWithUser struct {
	Session *Session `json:"session"`
	User    *User    `json:"user"`
}

// VerificationPurpose は単回使用トークンの用途を表す。
type VerificationPurpose string

const (
	// PurposeResetPassword はパスワードリセット用トークン。
	PurposeResetPassword VerificationPurpose = "reset-password"
	// PurposeEmailVerification はメールアドレス確認用トークン。
	PurposeEmailVerification VerificationPurpose = "email-verification"
)

// Verification は識別子（メールアドレス）と用途に紐づく単回使用トークンを表す。
// トークン本体は保存せず、SHA-256ハッシュのみを保持する。
type Verification struct {
	ID         string
	Identifier string
	Purpose    VerificationPurpose
	TokenHash  string
	Value      string // ユーザーID
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Expired は指定時刻においてトークンが期限切れかどうかを返す。
func (v *Verification) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}
