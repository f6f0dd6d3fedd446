package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/hr360/internal/model"
)

type mongoVerification struct {
	ID         string    `bson:"_id"`
	Identifier string    `bson:"identifier"`
	Purpose    string    `bson:"purpose"`
	TokenHash  string    `bson:"tokenHash"`
	Value      string    `bson:"value"`
	ExpiresAt  time.Time `bson:"expiresAt"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func (d mongoVerification) model() *model.Verification {
	return &model.Verification{
		ID: d.ID, Identifier: d.Identifier, Purpose: model.VerificationPurpose(d.Purpose),
		TokenHash: d.TokenHash, Value: d.Value, ExpiresAt: d.ExpiresAt,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// MongoVerificationRepo はMongoDBのverificationsコレクションを使用したリポジトリ。
type MongoVerificationRepo struct {
	verifications mongoCollection
}

// NewMongoVerificationRepo はMongoVerificationRepoを生成する。
func NewMongoVerificationRepo(p MongoProvider) *MongoVerificationRepo {
	return &MongoVerificationRepo{verifications: mongoCollection{p: p, name: "verifications"}}
}

// Create はトークンを作成する。
func (r *MongoVerificationRepo) Create(ctx context.Context, v *model.Verification) error {
	coll, err := r.verifications.get(ctx)
	if err != nil {
		return err
	}
	doc := mongoVerification{
		ID: v.ID, Identifier: v.Identifier, Purpose: string(v.Purpose), TokenHash: v.TokenHash,
		Value: v.Value, ExpiresAt: v.ExpiresAt, CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt,
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}
	return nil
}

// FindByTokenHash は用途とトークンハッシュで検索する。
func (r *MongoVerificationRepo) FindByTokenHash(ctx context.Context, purpose model.VerificationPurpose, tokenHash string) (*model.Verification, error) {
	var doc mongoVerification
	found, err := r.verifications.findOne(ctx, bson.M{"purpose": string(purpose), "tokenHash": tokenHash}, &doc)
	if err != nil || !found {
		return nil, err
	}
	return doc.model(), nil
}

// Consume はFindOneAndDeleteで有効なトークンを原子的に取得・削除する。
func (r *MongoVerificationRepo) Consume(ctx context.Context, purpose model.VerificationPurpose, tokenHash string, now time.Time) (*model.Verification, error) {
	coll, err := r.verifications.get(ctx)
	if err != nil {
		return nil, err
	}
	filter := bson.M{
		"purpose":   string(purpose),
		"tokenHash": tokenHash,
		"expiresAt": bson.M{"$gt": now},
	}
	var doc mongoVerification
	err = coll.FindOneAndDelete(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification: %w", err)
	}
	return doc.model(), nil
}

// DeleteByIdentifier は識別子と用途に紐づく全トークンを削除する。
func (r *MongoVerificationRepo) DeleteByIdentifier(ctx context.Context, identifier string, purpose model.VerificationPurpose) error {
	coll, err := r.verifications.get(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.DeleteMany(ctx, bson.M{"identifier": identifier, "purpose": string(purpose)}); err != nil {
		return fmt.Errorf("failed to delete verifications: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのトークンを削除する。
func (r *MongoVerificationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	coll, err := r.verifications.get(ctx)
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": now}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verifications: %w", err)
	}
	return res.DeletedCount, nil
}

// compile-time interface check
var _ VerificationRepository = (*MongoVerificationRepo)(nil)
