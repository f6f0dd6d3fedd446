package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/hr360/internal/model"
)

type mongoUser struct {
	ID            string    `bson:"_id"`
	Name          string    `bson:"name"`
	Email         string    `bson:"email"`
	EmailVerified bool      `bson:"emailVerified"`
	Image         string    `bson:"image,omitempty"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

func toMongoUser(u *model.User) mongoUser {
	return mongoUser{
		ID: u.ID, Name: u.Name, Email: u.Email, EmailVerified: u.EmailVerified,
		Image: u.Image, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func (d mongoUser) model() *model.User {
	return &model.User{
		ID: d.ID, Name: d.Name, Email: d.Email, EmailVerified: d.EmailVerified,
		Image: d.Image, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// MongoUserRepo はMongoDBのusersコレクションを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	users    mongoCollection
	accounts mongoCollection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(p MongoProvider) *MongoUserRepo {
	return &MongoUserRepo{
		users:    mongoCollection{p: p, name: "users"},
		accounts: mongoCollection{p: p, name: "accounts"},
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var doc mongoUser
	found, err := r.users.findOne(ctx, bson.M{"_id": id}, &doc)
	if err != nil || !found {
		return nil, err
	}
	return doc.model(), nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var doc mongoUser
	found, err := r.users.findOne(ctx, bson.M{"email": email}, &doc)
	if err != nil || !found {
		return nil, err
	}
	return doc.model(), nil
}

// CreateWithAccount はユーザーとアカウントを作成する。
// スタンドアロン構成ではマルチドキュメントトランザクションが使えないため、
// アカウント作成に失敗した場合はユーザーを削除して元に戻す。
func (r *MongoUserRepo) CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error {
	users, err := r.users.get(ctx)
	if err != nil {
		return err
	}
	if _, err := users.InsertOne(ctx, toMongoUser(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	accounts, err := r.accounts.get(ctx)
	if err == nil {
		_, err = accounts.InsertOne(ctx, toMongoAccount(account))
	}
	if err != nil {
		if _, delErr := users.DeleteOne(ctx, bson.M{"_id": user.ID}); delErr != nil {
			return fmt.Errorf("failed to insert account: %w (rollback failed: %v)", err, delErr)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// Update はユーザーのプロフィールとメール確認状態を更新する。
func (r *MongoUserRepo) Update(ctx context.Context, user *model.User) error {
	users, err := r.users.get(ctx)
	if err != nil {
		return err
	}
	_, err = users.UpdateByID(ctx, user.ID, bson.M{"$set": bson.M{
		"name":          user.Name,
		"image":         user.Image,
		"emailVerified": user.EmailVerified,
		"updatedAt":     user.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するaccounts、sessionsは呼び出し側で削除する。
func (r *MongoUserRepo) DeleteByID(ctx context.Context, id string) error {
	users, err := r.users.get(ctx)
	if err != nil {
		return err
	}
	res, err := users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*MongoUserRepo)(nil)
