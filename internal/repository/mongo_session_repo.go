package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/hr360/internal/model"
)

type mongoSession struct {
	ID        string    `bson:"_id"`
	Token     string    `bson:"token"`
	UserID    string    `bson:"userId"`
	ExpiresAt time.Time `bson:"expiresAt"`
	IPAddress string    `bson:"ipAddress,omitempty"`
	UserAgent string    `bson:"userAgent,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
	// 既存ドキュメントは長期セッションとして読む
	ShortLived bool `bson:"shortLived,omitempty"`
}

func (d mongoSession) model() *model.Session {
	return &model.Session{
		ID: d.ID, Token: d.Token, UserID: d.UserID, ExpiresAt: d.ExpiresAt,
		IPAddress: d.IPAddress, UserAgent: d.UserAgent, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
		RememberMe: !d.ShortLived,
	}
}

// MongoSessionRepo はMongoDBのsessionsコレクションを使用したセッションリポジトリ。
type MongoSessionRepo struct {
	sessions mongoCollection
}

// NewMongoSessionRepo はMongoSessionRepoを生成する。
func NewMongoSessionRepo(p MongoProvider) *MongoSessionRepo {
	return &MongoSessionRepo{sessions: mongoCollection{p: p, name: "sessions"}}
}

// Create はセッションを作成する。
func (r *MongoSessionRepo) Create(ctx context.Context, s *model.Session) error {
	coll, err := r.sessions.get(ctx)
	if err != nil {
		return err
	}
	doc := mongoSession{
		ID: s.ID, Token: s.Token, UserID: s.UserID, ExpiresAt: s.ExpiresAt,
		IPAddress: s.IPAddress, UserAgent: s.UserAgent, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
		ShortLived: !s.RememberMe,
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByToken は指定トークンのセッションを取得する。期限切れでも返す。
func (r *MongoSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	var doc mongoSession
	found, err := r.sessions.findOne(ctx, bson.M{"token": token}, &doc)
	if err != nil || !found {
		return nil, err
	}
	return doc.model(), nil
}

// ListByUserID は指定ユーザーの全セッションを返す。
func (r *MongoSessionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Session, error) {
	coll, err := r.sessions.get(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, bson.M{"userId": userID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var docs []mongoSession
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	sessions := make([]*model.Session, 0, len(docs))
	for _, d := range docs {
		sessions = append(sessions, d.model())
	}
	return sessions, nil
}

// UpdateExpiry はセッションの有効期限を延長する。
func (r *MongoSessionRepo) UpdateExpiry(ctx context.Context, id string, expiresAt, updatedAt time.Time) error {
	coll, err := r.sessions.get(ctx)
	if err != nil {
		return err
	}
	_, err = coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{"expiresAt": expiresAt, "updatedAt": updatedAt}})
	if err != nil {
		return fmt.Errorf("failed to update session expiry: %w", err)
	}
	return nil
}

func (r *MongoSessionRepo) deleteMany(ctx context.Context, filter bson.M) (int64, error) {
	coll, err := r.sessions.get(ctx)
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return res.DeletedCount, nil
}

// DeleteByToken は指定トークンのセッションを削除する。
func (r *MongoSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.deleteMany(ctx, bson.M{"token": token})
	return err
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *MongoSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.deleteMany(ctx, bson.M{"userId": userID})
	return err
}

// DeleteByUserIDExcept は指定トークン以外の全セッションを削除する。
func (r *MongoSessionRepo) DeleteByUserIDExcept(ctx context.Context, userID, keepToken string) error {
	_, err := r.deleteMany(ctx, bson.M{"userId": userID, "token": bson.M{"$ne": keepToken}})
	return err
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MongoSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": now}})
}

// compile-time interface check
var _ SessionRepository = (*MongoSessionRepo)(nil)
