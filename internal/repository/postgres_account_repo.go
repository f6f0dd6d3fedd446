package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/hr360/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `id, user_id, account_id, provider_id, access_token, refresh_token,
	access_token_expires_at, refresh_token_expires_at, scope, id_token, password, created_at, updated_at`

// execer はsql.DBとsql.Txの共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAccount(ctx context.Context, db execer, a *model.Account) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.UserID, a.AccountID, a.ProviderID, a.AccessToken, a.RefreshToken,
		a.AccessTokenExpiresAt, a.RefreshTokenExpiresAt, a.Scope, a.IDToken, a.Password,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	a := &model.Account{}
	var accessExp, refreshExp sql.NullTime
	err := row.Scan(&a.ID, &a.UserID, &a.AccountID, &a.ProviderID, &a.AccessToken, &a.RefreshToken,
		&accessExp, &refreshExp, &a.Scope, &a.IDToken, &a.Password, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if accessExp.Valid {
		a.AccessTokenExpiresAt = &accessExp.Time
	}
	if refreshExp.Valid {
		a.RefreshTokenExpiresAt = &refreshExp.Time
	}
	return a, nil
}

// FindByProviderAccount はproviderIDとaccountIDでアカウントを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByProviderAccount(ctx context.Context, providerID, accountID string) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider_id = $1 AND account_id = $2`,
		providerID, accountID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return a, nil
}

// FindByUserAndProvider はユーザーIDとproviderIDでアカウントを検索する。
func (r *PostgresAccountRepo) FindByUserAndProvider(ctx context.Context, userID, providerID string) (*model.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND provider_id = $2`,
		userID, providerID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by user: %w", err)
	}
	return a, nil
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	return insertAccount(ctx, r.db, account)
}

// UpdateTokens はIdPトークン類を更新する。
func (r *PostgresAccountRepo) UpdateTokens(ctx context.Context, a *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET access_token = $2, refresh_token = $3, access_token_expires_at = $4,
		     refresh_token_expires_at = $5, scope = $6, id_token = $7, updated_at = $8
		 WHERE id = $1`,
		a.ID, a.AccessToken, a.RefreshToken, a.AccessTokenExpiresAt, a.RefreshTokenExpiresAt,
		a.Scope, a.IDToken, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update account tokens: %w", err)
	}
	return nil
}

// UpdatePassword はcredentialアカウントのパスワードハッシュを更新する。
func (r *PostgresAccountRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password = $3, updated_at = now()
		 WHERE user_id = $1 AND provider_id = $2`,
		userID, model.ProviderCredential, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全アカウントを削除する。
func (r *PostgresAccountRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete accounts: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
