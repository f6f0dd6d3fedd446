package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// コレクション名
const (
	CollectionUsers         = "users"
	CollectionSessions      = "sessions"
	CollectionAccounts      = "accounts"
	CollectionVerifications = "verifications"
)

const mongoConnectTimeout = 10 * time.Second

// Mongo はMongoDBクライアントを遅延接続で保持するハンドル。
// 最初にDatabaseが呼ばれた時点で接続し、以降は同じクライアントを再利用する。
// 接続に失敗した場合は次回呼び出し時に再試行する。
type Mongo struct {
	uri    string
	dbName string

	mu     sync.Mutex
	client *mongo.Client
}

// NewMongo はMongoハンドルを生成する。この時点では接続しない。
func NewMongo(uri, dbName string) *Mongo {
	return &Mongo{uri: uri, dbName: dbName}
}

// Database は接続済みの*mongo.Databaseを返す。未接続なら接続する。
func (m *Mongo) Database(ctx context.Context) (*mongo.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client.Database(m.dbName), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(m.uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	m.client = client
	return client.Database(m.dbName), nil
}

// Ping はMongoDBへの疎通を確認する。未接続なら接続を試みる。
func (m *Mongo) Ping(ctx context.Context) error {
	db, err := m.Database(ctx)
	if err != nil {
		return err
	}
	return db.Client().Ping(ctx, nil)
}

// Close は接続済みであればクライアントを切断する。
func (m *Mongo) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	return err
}

// mongoIndexes はコレクションごとに作成するインデックス定義。
func mongoIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		CollectionUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
		},
		CollectionSessions: {
			{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_token")},
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("idx_user")},
		},
		CollectionAccounts: {
			{
				Keys:    bson.D{{Key: "providerId", Value: 1}, {Key: "accountId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_provider_account"),
			},
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("idx_user")},
		},
		CollectionVerifications: {
			{Keys: bson.D{{Key: "tokenHash", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_token_hash")},
			{
				Keys:    bson.D{{Key: "purpose", Value: 1}, {Key: "identifier", Value: 1}},
				Options: options.Index().SetName("idx_purpose_identifier"),
			},
		},
	}
}

// EnsureIndexes は必要なインデックスを作成する。既存のインデックスはそのまま残る。
func EnsureIndexes(ctx context.Context, m *Mongo) error {
	db, err := m.Database(ctx)
	if err != nil {
		return err
	}
	for coll, models := range mongoIndexes() {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}
