// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/hr360/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は小文字化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithAccount はユーザーとアカウントをまとめて作成する。
	// メールアドレスが重複する場合はmodel.ErrDuplicateEmailを返す。
	CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error

	// Update はname、image、email_verified、updated_atを更新する。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// AccountRepository は認証情報ソース（credential / 外部IdP）の永続化インターフェース。
type AccountRepository interface {
	// FindByProviderAccount はproviderIDとaccountIDでアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAccount(ctx context.Context, providerID, accountID string) (*model.Account, error)

	// FindByUserAndProvider はユーザーIDとproviderIDでアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByUserAndProvider(ctx context.Context, userID, providerID string) (*model.Account, error)

	// Create はアカウントを作成する。
	Create(ctx context.Context, account *model.Account) error

	// UpdateTokens はIdPから受け取ったトークン類を更新する。
	UpdateTokens(ctx context.Context, account *model.Account) error

	// UpdatePassword はcredentialアカウントのパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, userID, passwordHash string) error

	// DeleteByUserID は指定ユーザーの全アカウントを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
// 有効期限の判定は呼び出し側で行うため、FindByTokenは期限切れのセッションも返す。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByToken は指定トークンのセッションを取得する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.Session, error)
	// ListByUserID は指定ユーザーの全セッションを作成日時の昇順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Session, error)
	// UpdateExpiry はセッションの有効期限を延長する。
	UpdateExpiry(ctx context.Context, id string, expiresAt, updatedAt time.Time) error
	// DeleteByToken は指定トークンのセッションを削除する。
	DeleteByToken(ctx context.Context, token string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteByUserIDExcept は指定トークン以外の全セッションを削除する。
	DeleteByUserIDExcept(ctx context.Context, userID, keepToken string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// VerificationRepository は単回使用トークンの永続化インターフェース。
type VerificationRepository interface {
	// Create はトークンを作成する。
	Create(ctx context.Context, v *model.Verification) error
	// FindByTokenHash は用途とトークンハッシュで検索する。期限切れも含めて返す。
	// 見つからない場合はnilを返す。
	FindByTokenHash(ctx context.Context, purpose model.VerificationPurpose, tokenHash string) (*model.Verification, error)
	// Consume は有効なトークンを原子的に取得して削除する。
	// 該当なし・期限切れ・使用済みの場合はnilを返す。
	Consume(ctx context.Context, purpose model.VerificationPurpose, tokenHash string, now time.Time) (*model.Verification, error)
	// DeleteByIdentifier は識別子と用途に紐づく全トークンを削除する。
	DeleteByIdentifier(ctx context.Context, identifier string, purpose model.VerificationPurpose) error
	// DeleteExpired は期限切れのトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Backend はストアの接続確認と後始末を行うインターフェース。
type Backend interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Store は4つのリポジトリとバックエンドをまとめたもの。
// DATABASE_URLのスキームに応じてNewMongoStoreまたはNewPostgresStoreで生成する。
type Store struct {
	Backend
	Users         UserRepository
	Accounts      AccountRepository
	Sessions      SessionRepository
	Verifications VerificationRepository
}
