package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hitoshi/hr360/internal/model"
)

type mongoAccount struct {
	ID                    string     `bson:"_id"`
	UserID                string     `bson:"userId"`
	AccountID             string     `bson:"accountId"`
	ProviderID            string     `bson:"providerId"`
	AccessToken           string     `bson:"accessToken,omitempty"`
	RefreshToken          string     `bson:"refreshToken,omitempty"`
	AccessTokenExpiresAt  *time.Time `bson:"accessTokenExpiresAt,omitempty"`
	RefreshTokenExpiresAt *time.Time `bson:"refreshTokenExpiresAt,omitempty"`
	Scope                 string     `bson:"scope,omitempty"`
	IDToken               string     `bson:"idToken,omitempty"`
	Password              string     `bson:"password,omitempty"`
	CreatedAt             time.Time  `bson:"createdAt"`
	UpdatedAt             time.Time  `bson:"updatedAt"`
}

func toMongoAccount(a *model.Account) mongoAccount {
	return mongoAccount{
		ID: a.ID, UserID: a.UserID, AccountID: a.AccountID, ProviderID: a.ProviderID,
		AccessToken: a.AccessToken, RefreshToken: a.RefreshToken,
		AccessTokenExpiresAt: a.AccessTokenExpiresAt, RefreshTokenExpiresAt: a.RefreshTokenExpiresAt,
		Scope: a.Scope, IDToken: a.IDToken, Password: a.Password,
		CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

func (d mongoAccount) model() *model.Account {
	return &model.Account{
		ID: d.ID, UserID: d.UserID, AccountID: d.AccountID, ProviderID: d.ProviderID,
		AccessToken: d.AccessToken, RefreshToken: d.RefreshToken,
		AccessTokenExpiresAt: d.AccessTokenExpiresAt, RefreshTokenExpiresAt: d.RefreshTokenExpiresAt,
		Scope: d.Scope, IDToken: d.IDToken, Password: d.Password,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// MongoAccountRepo はMongoDBのaccountsコレクションを使用したアカウントリポジトリ。
type MongoAccountRepo struct {
	accounts mongoCollection
}

// NewMongoAccountRepo はMongoAccountRepoを生成する。
func NewMongoAccountRepo(p MongoProvider) *MongoAccountRepo {
	return &MongoAccountRepo{accounts: mongoCollection{p: p, name: "accounts"}}
}

func (r *MongoAccountRepo) find(ctx context.Context, filter bson.M) (*model.Account, error) {
	var doc mongoAccount
	found, err := r.accounts.findOne(ctx, filter, &doc)
	if err != nil || !found {
		return nil, err
	}
	return doc.model(), nil
}

// FindByProviderAccount はproviderIDとaccountIDでアカウントを検索する。
func (r *MongoAccountRepo) FindByProviderAccount(ctx context.Context, providerID, accountID string) (*model.Account, error) {
	return r.find(ctx, bson.M{"providerId": providerID, "accountId": accountID})
}

// FindByUserAndProvider はユーザーIDとproviderIDでアカウントを検索する。
func (r *MongoAccountRepo) FindByUserAndProvider(ctx context.Context, userID, providerID string) (*model.Account, error) {
	return r.find(ctx, bson.M{"userId": userID, "providerId": providerID})
}

// Create はアカウントを作成する。
func (r *MongoAccountRepo) Create(ctx context.Context, account *model.Account) error {
	coll, err := r.accounts.get(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.InsertOne(ctx, toMongoAccount(account)); err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// UpdateTokens はIdPトークン類を更新する。
func (r *MongoAccountRepo) UpdateTokens(ctx context.Context, a *model.Account) error {
	coll, err := r.accounts.get(ctx)
	if err != nil {
		return err
	}
	_, err = coll.UpdateByID(ctx, a.ID, bson.M{"$set": bson.M{
		"accessToken":           a.AccessToken,
		"refreshToken":          a.RefreshToken,
		"accessTokenExpiresAt":  a.AccessTokenExpiresAt,
		"refreshTokenExpiresAt": a.RefreshTokenExpiresAt,
		"scope":                 a.Scope,
		"idToken":               a.IDToken,
		"updatedAt":             a.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("failed to update account tokens: %w", err)
	}
	return nil
}

// UpdatePassword はcredentialアカウントのパスワードハッシュを更新する。
func (r *MongoAccountRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	coll, err := r.accounts.get(ctx)
	if err != nil {
		return err
	}
	_, err = coll.UpdateOne(ctx,
		bson.M{"userId": userID, "providerId": model.ProviderCredential},
		bson.M{"$set": bson.M{"password": passwordHash, "updatedAt": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全アカウントを削除する。
func (r *MongoAccountRepo) DeleteByUserID(ctx context.Context, userID string) error {
	coll, err := r.accounts.get(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.DeleteMany(ctx, bson.M{"userId": userID}); err != nil {
		return fmt.Errorf("failed to delete accounts: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*MongoAccountRepo)(nil)
