package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// MongoProvider は遅延接続された*mongo.Databaseを提供する。
// database.Mongoが実装する。
type MongoProvider interface {
	Database(ctx context.Context) (*mongo.Database, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewMongoStore はMongoDBをバックエンドとするStoreを生成する。
// この時点では接続せず、最初のクエリで接続する。
func NewMongoStore(p MongoProvider) *Store {
	return &Store{
		Backend:       p,
		Users:         NewMongoUserRepo(p),
		Accounts:      NewMongoAccountRepo(p),
		Sessions:      NewMongoSessionRepo(p),
		Verifications: NewMongoVerificationRepo(p),
	}
}

// mongoCollection は遅延接続を経由してコレクションを取得する。
type mongoCollection struct {
	p    MongoProvider
	name string
}

func (c mongoCollection) get(ctx context.Context) (*mongo.Collection, error) {
	db, err := c.p.Database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(c.name), nil
}

// findOne はフィルタに一致する1件をデコードする。見つからない場合はfalseを返す。
func (c mongoCollection) findOne(ctx context.Context, filter any, out any) (bool, error) {
	coll, err := c.get(ctx)
	if err != nil {
		return false, err
	}
	err = coll.FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find in %s: %w", c.name, err)
	}
	return true, nil
}
