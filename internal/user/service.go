// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/hr360/internal/model"
	"github.com/hitoshi/hr360/internal/repository"
)

// Profile はuser.getUserが返すダッシュボード用のユーザー表示情報。
type Profile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// demoProfile はダッシュボードのヘッダーに表示する固定のユーザー。
var demoProfile = Profile{ID: 1, Name: "John Doe"}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo         repository.UserRepository
	accountRepo      repository.AccountRepository
	sessionRepo      repository.SessionRepository
	verificationRepo repository.VerificationRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store *repository.Store) *Service {
	return &Service{
		userRepo:         store.Users,
		accountRepo:      store.Accounts,
		sessionRepo:      store.Sessions,
		verificationRepo: store.Verifications,
	}
}

// GetUser はダッシュボード表示用のユーザーを返す。
func (s *Service) GetUser(_ context.Context) (*Profile, error) {
	p := demoProfile
	return &p, nil
}

// Me は指定IDのユーザーを返す。存在しない場合はUSER_NOT_FOUND。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → verifications → accounts → user
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを削除（以降のリクエストは即座に未認証になる）
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	// 2. 未使用のトークンを削除
	for _, purpose := range []model.VerificationPurpose{model.PurposeResetPassword, model.PurposeEmailVerification} {
		if err := s.verificationRepo.DeleteByIdentifier(ctx, user.Email, purpose); err != nil {
			return fmt.Errorf("トークンの削除に失敗しました: %w", err)
		}
	}

	// 3. アカウントを削除
	if err := s.accountRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("アカウントの削除に失敗しました: %w", err)
	}

	// 4. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
