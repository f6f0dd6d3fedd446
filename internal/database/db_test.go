package database

import (
	"context"
	"os"
	"testing"
	"time"
)

// sql.Openは接続を試行しないため、任意のURLでDBオブジェクトが返る。
func TestOpen_ReturnsDBForAnyURL(t *testing.T) {
	db, err := Open("postgres://invalid")
	if err != nil {
		t.Fatalf("Open returned unexpected error: %v", err)
	}
	if db == nil {
		t.Fatal("expected non-nil db")
	}
	defer db.Close()
}

// NewMongoは接続を行わない。
func TestNewMongo_DoesNotConnect(t *testing.T) {
	m := NewMongo("mongodb://127.0.0.1:1", "hr360_test")
	if m.client != nil {
		t.Fatal("client should be nil before first use")
	}
	// 未接続のCloseはno-op
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close on unconnected handle returned %v", err)
	}
}

// 接続できない場合はエラーを返し、ハンドルは未接続のまま残る（次回再試行できる）。
func TestMongo_Database_ConnectFailure_LeavesHandleReusable(t *testing.T) {
	m := NewMongo("mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200", "hr360_test")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := m.Database(ctx); err == nil {
		t.Fatal("expected error for unreachable mongodb")
	}
	if m.client != nil {
		t.Error("client should stay nil after failed connect")
	}
}

func TestMongoIndexes_CoverAllCollections(t *testing.T) {
	idx := mongoIndexes()
	for _, coll := range []string{CollectionUsers, CollectionSessions, CollectionAccounts, CollectionVerifications} {
		if len(idx[coll]) == 0 {
			t.Errorf("no indexes defined for %s", coll)
		}
	}
	emailIdx := idx[CollectionUsers][0]
	if emailIdx.Options == nil || emailIdx.Options.Unique == nil || !*emailIdx.Options.Unique {
		t.Error("users.email index must be unique")
	}
}

// MongoDBが利用可能な場合のみ、遅延接続とインデックス作成を検証する。
func TestEnsureIndexes_Integration(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URL")
	if uri == "" {
		t.Skip("TEST_MONGO_URL が未設定のためスキップ")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := NewMongo(uri, "hr360_test")
	defer m.Close(ctx)

	if err := EnsureIndexes(ctx, m); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}
	// 2回目も成功する
	if err := EnsureIndexes(ctx, m); err != nil {
		t.Fatalf("second EnsureIndexes failed: %v", err)
	}

	db1, _ := m.Database(ctx)
	db2, _ := m.Database(ctx)
	if db1.Client() != db2.Client() {
		t.Error("expected the same client to be reused")
	}
}
