package repository

import (
	"context"
	"database/sql"
)

type postgresBackend struct {
	db *sql.DB
}

func (b postgresBackend) Ping(ctx context.Context) error { return b.db.PingContext(ctx) }

func (b postgresBackend) Close(context.Context) error { return b.db.Close() }

// NewPostgresStore はPostgreSQLをバックエンドとするStoreを生成する。
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Backend:       postgresBackend{db: db},
		Users:         NewPostgresUserRepo(db),
		Accounts:      NewPostgresAccountRepo(db),
		Sessions:      NewPostgresSessionRepo(db),
		Verifications: NewPostgresVerificationRepo(db),
	}
}
