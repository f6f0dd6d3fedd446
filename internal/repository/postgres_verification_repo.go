package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/hr360/internal/model"
)

// PostgresVerificationRepo はPostgreSQLを使用した単回使用トークンのリポジトリ。
type PostgresVerificationRepo struct {
	db *sql.DB
}

// NewPostgresVerificationRepo はPostgresVerificationRepoを生成する。
func NewPostgresVerificationRepo(db *sql.DB) *PostgresVerificationRepo {
	return &PostgresVerificationRepo{db: db}
}

const verificationColumns = `id, identifier, purpose, token_hash, value, expires_at, created_at, updated_at`

func scanVerification(row interface{ Scan(...any) error }) (*model.Verification, error) {
	v := &model.Verification{}
	var purpose string
	err := row.Scan(&v.ID, &v.Identifier, &purpose, &v.TokenHash, &v.Value, &v.ExpiresAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Purpose = model.VerificationPurpose(purpose)
	return v, nil
}

// Create はトークンを作成する。
func (r *PostgresVerificationRepo) Create(ctx context.Context, v *model.Verification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verifications (`+verificationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.Identifier, string(v.Purpose), v.TokenHash, v.Value, v.ExpiresAt, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}
	return nil
}

// FindByTokenHash は用途とトークンハッシュで検索する。
func (r *PostgresVerificationRepo) FindByTokenHash(ctx context.Context, purpose model.VerificationPurpose, tokenHash string) (*model.Verification, error) {
	v, err := scanVerification(r.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM verifications WHERE purpose = $1 AND token_hash = $2`,
		string(purpose), tokenHash,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find verification: %w", err)
	}
	return v, nil
}

// Consume は有効なトークンをDELETE ... RETURNINGで原子的に取得・削除する。
// 同じトークンで同時に呼ばれても、行を返すのは1回だけ。
func (r *PostgresVerificationRepo) Consume(ctx context.Context, purpose model.VerificationPurpose, tokenHash string, now time.Time) (*model.Verification, error) {
	v, err := scanVerification(r.db.QueryRowContext(ctx,
		`DELETE FROM verifications
		 WHERE purpose = $1 AND token_hash = $2 AND expires_at > $3
		 RETURNING `+verificationColumns,
		string(purpose), tokenHash, now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification: %w", err)
	}
	return v, nil
}

// DeleteByIdentifier は識別子と用途に紐づく全トークンを削除する。
func (r *PostgresVerificationRepo) DeleteByIdentifier(ctx context.Context, identifier string, purpose model.VerificationPurpose) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM verifications WHERE identifier = $1 AND purpose = $2`,
		identifier, string(purpose),
	)
	if err != nil {
		return fmt.Errorf("failed to delete verifications: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのトークンを削除する。
func (r *PostgresVerificationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM verifications WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verifications: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ VerificationRepository = (*PostgresVerificationRepo)(nil)
