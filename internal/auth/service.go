// Package auth はメール/パスワード認証、ソーシャルログイン、セッション管理、
// パスワードリセットとメールアドレス確認のフローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/net/idna"

	"github.com/hitoshi/hr360/internal/model"
	"github.com/hitoshi/hr360/internal/repository"
)

const (
	// maxNameLength は表示名の最大文字数（users.name VARCHAR(255)）。
	maxNameLength = 255
	// maxUserAgentLength はセッションに記録するUser-Agentの最大文字数。
	maxUserAgentLength = 512
)

// Notifier は認証フローで送るメールの送信を抽象化する。
// 送信失敗は実装側でログに記録して握りつぶすため、エラーは返さない。
type Notifier interface {
	SendPasswordReset(ctx context.Context, to, name, link string)
	SendVerification(ctx context.Context, to, name, link string)
}

// Limiter はメール送信のスロットルを抽象化する。
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// AvatarMirror はIdPのプロフィール画像を自前ストレージへ複製する。
type AvatarMirror interface {
	Mirror(ctx context.Context, userID, sourceURL string) (string, error)
}

// URLValidator は外部URLの安全性を検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Sanitizer は表示名などのプレーンテキストを無害化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// AccountWithdrawer はユーザーと関連データを削除する。
type AccountWithdrawer interface {
	Withdraw(ctx context.Context, userID string) error
}

// EventRecorder は認証イベントのメトリクスを記録する。
type EventRecorder interface {
	RecordAuthEvent(event, outcome string)
	RecordSessionValidation(result string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BaseURL string

	SessionMaxAge        time.Duration
	SessionUpdateAge     time.Duration
	ShortSessionMaxAge   time.Duration // rememberMe=false のセッション上限
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration

	PasswordMinLength int
	PasswordMaxLength int

	RequireEmailVerification    bool
	SendVerificationOnSignUp    bool
	AutoSignInAfterVerification bool
	RevokeSessionsOnReset       bool
}

// Deps は認証サービスの依存関係。Avatars、Eventsはnilでもよい。
type Deps struct {
	Store      *repository.Store
	Providers  []OAuthProvider
	State      *StateSigner
	Redirects  *RedirectValidator
	Notifier   Notifier
	Throttle   Limiter
	Avatars    AvatarMirror
	URLGuard   URLValidator
	Sanitizer  Sanitizer
	Withdrawer AccountWithdrawer
	Events     EventRecorder
}

// RequestMeta はセッションに記録するクライアント情報。
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// AuthResult はサインイン系操作の結果。
// Sessionがnilの場合はセッションを発行していない（メール確認待ちなど）。
type AuthResult struct {
	User       *model.User
	Session    *model.Session
	RememberMe bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	store      *repository.Store
	providers  map[string]OAuthProvider
	state      *StateSigner
	redirects  *RedirectValidator
	notifier   Notifier
	throttle   Limiter
	avatars    AvatarMirror
	urlGuard   URLValidator
	sanitizer  Sanitizer
	withdrawer AccountWithdrawer
	events     EventRecorder
	config     ServiceConfig

	now func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps Deps, config ServiceConfig) *Service {
	if config.ShortSessionMaxAge <= 0 || config.ShortSessionMaxAge > config.SessionMaxAge {
		config.ShortSessionMaxAge = min(24*time.Hour, config.SessionMaxAge)
	}
	providers := make(map[string]OAuthProvider, len(deps.Providers))
	for _, p := range deps.Providers {
		providers[p.ID()] = p
	}
	return &Service{
		store:      deps.Store,
		providers:  providers,
		state:      deps.State,
		redirects:  deps.Redirects,
		notifier:   deps.Notifier,
		throttle:   deps.Throttle,
		avatars:    deps.Avatars,
		urlGuard:   deps.URLGuard,
		sanitizer:  deps.Sanitizer,
		withdrawer: deps.Withdrawer,
		events:     deps.Events,
		config:     config,
		now:        time.Now,
	}
}

// ============================================================
// メール/パスワード
// ============================================================

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	Name        string
	Email       string
	Password    string
	Image       string
	CallbackURL string
	Meta        RequestMeta
}

// SignUpEmail はユーザーとcredentialアカウントを作成する。
// メール確認が必須の場合はセッションを発行しない。
func (s *Service) SignUpEmail(ctx context.Context, in SignUpInput) (*AuthResult, error) {
	name, err := s.displayName(in.Name)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePasswordLength(in.Password, s.config.PasswordMinLength, s.config.PasswordMaxLength); err != nil {
		return nil, err
	}
	callbackURL, err := s.redirects.Validate(in.CallbackURL)
	if err != nil {
		return nil, err
	}
	if in.Image != "" {
		if err := s.validateImage(in.Image); err != nil {
			return nil, err
		}
	}

	existing, err := s.store.Users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		s.event("sign_up", "duplicate")
		return nil, model.NewUserAlreadyExistsError()
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	user := &model.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Image:     in.Image,
		CreatedAt: now,
		UpdatedAt: now,
	}
	account := &model.Account{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		AccountID:  user.ID,
		ProviderID: model.ProviderCredential,
		Password:   hash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Users.CreateWithAccount(ctx, user, account); err != nil {
		if errors.Is(err, model.ErrDuplicateEmail) {
			s.event("sign_up", "duplicate")
			return nil, model.NewUserAlreadyExistsError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("provider", model.ProviderCredential),
	)
	s.event("sign_up", "success")

	if s.config.SendVerificationOnSignUp || s.config.RequireEmailVerification {
		s.sendVerification(ctx, user, callbackURL)
	}
	if s.config.RequireEmailVerification {
		return &AuthResult{User: user}, nil
	}

	session, err := s.createSession(ctx, user.ID, in.Meta, true)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Session: session, RememberMe: true}, nil
}

// SignInInput はメール/パスワードによるサインインの入力。
type SignInInput struct {
	Email       string
	Password    string
	RememberMe  bool
	CallbackURL string
	Meta        RequestMeta
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// equalizeTiming はユーザーが存在しない場合にもbcrypt比較を1回行い、応答時間を揃える。
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("hr360-timing-equalizer")
	})
	VerifyPassword(dummyHash, password)
}

// SignInEmail はメールアドレスとパスワードで認証し、セッションを発行する。
func (s *Service) SignInEmail(ctx context.Context, in SignInInput) (*AuthResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	callbackURL, err := s.redirects.Validate(in.CallbackURL)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		equalizeTiming(in.Password)
		s.event("sign_in", "failure")
		return nil, model.NewInvalidEmailOrPasswordError()
	}

	account, err := s.store.Accounts.FindByUserAndProvider(ctx, user.ID, model.ProviderCredential)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential account: %w", err)
	}
	if account == nil {
		equalizeTiming(in.Password)
		s.event("sign_in", "failure")
		return nil, model.NewInvalidEmailOrPasswordError()
	}
	if !VerifyPassword(account.Password, in.Password) {
		s.event("sign_in", "failure")
		return nil, model.NewInvalidEmailOrPasswordError()
	}

	if s.config.RequireEmailVerification && !user.EmailVerified {
		s.sendVerification(ctx, user, callbackURL)
		s.event("sign_in", "unverified")
		return nil, model.NewEmailNotVerifiedError()
	}

	session, err := s.createSession(ctx, user.ID, in.Meta, in.RememberMe)
	if err != nil {
		return nil, err
	}
	slog.Info("user signed in", slog.String("user_id", user.ID), slog.String("provider", model.ProviderCredential))
	s.event("sign_in", "success")
	return &AuthResult{User: user, Session: session, RememberMe: in.RememberMe}, nil
}

// ============================================================
// ソーシャルログイン
// ============================================================

// SocialSignInResult はソーシャルログイン開始時の結果。
type SocialSignInResult struct {
	URL         string // IdPの認可URL
	StateCookie string // 署名付きstate（HttpOnly Cookieに保存する）
}

// SocialSignIn はIdPの認可URLと署名付きstateを生成する。
func (s *Service) SocialSignIn(providerID, callbackURL, errorCallbackURL string) (*SocialSignInResult, error) {
	provider, ok := s.providers[providerID]
	if !ok {
		return nil, model.NewProviderNotFoundError(providerID)
	}
	cb, err := s.redirects.Validate(callbackURL)
	if err != nil {
		return nil, err
	}
	ecb, err := s.redirects.Validate(errorCallbackURL)
	if err != nil {
		return nil, err
	}

	nonce, err := generateToken(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state nonce: %w", err)
	}
	verifier, err := newCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	signed, err := s.state.Sign(StateClaims{
		Provider:         provider.ID(),
		Nonce:            nonce,
		CodeVerifier:     verifier,
		CallbackURL:      cb,
		ErrorCallbackURL: ecb,
	})
	if err != nil {
		return nil, err
	}

	return &SocialSignInResult{
		URL:         provider.AuthCodeURL(nonce, s256Challenge(verifier)),
		StateCookie: signed,
	}, nil
}

// ParseState はコールバック時にCookieの署名付きstateを検証する。
func (s *Service) ParseState(stateCookie string) (*StateClaims, error) {
	claims, err := s.state.Parse(stateCookie)
	if err != nil {
		return nil, model.NewBadRequestError("state が無効です")
	}
	return claims, nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 既存アカウントがあればそのユーザーでログインし、なければIdPの確認済みメールアドレスで
// 既存ユーザーに紐付けるか、新規ユーザーを作成する。
func (s *Service) HandleCallback(ctx context.Context, claims *StateClaims, providerID, code, stateParam string, meta RequestMeta) (*AuthResult, error) {
	provider, ok := s.providers[providerID]
	if !ok {
		return nil, model.NewProviderNotFoundError(providerID)
	}
	if claims.Provider != providerID || stateParam == "" || claims.Nonce != stateParam {
		s.event("social_sign_in", "state_mismatch")
		return nil, model.NewBadRequestError("state が一致しません")
	}
	if code == "" {
		return nil, model.NewBadRequestError("code がありません")
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := provider.ExchangeCode(ctx, code, claims.CodeVerifier)
	if err != nil {
		s.event("social_sign_in", "failure")
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. accountsで既存ユーザーを検索
	account, err := s.store.Accounts.FindByProviderAccount(ctx, providerID, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	var user *model.User
	switch {
	case account != nil:
		user, err = s.signInLinkedAccount(ctx, account, info)
	default:
		user, err = s.linkOrCreateUser(ctx, providerID, info)
	}
	if err != nil {
		s.event("social_sign_in", "failure")
		return nil, err
	}

	session, err := s.createSession(ctx, user.ID, meta, true)
	if err != nil {
		return nil, err
	}
	s.event("social_sign_in", "success")
	return &AuthResult{User: user, Session: session, RememberMe: true}, nil
}

func (s *Service) signInLinkedAccount(ctx context.Context, account *model.Account, info *OAuthUserInfo) (*model.User, error) {
	user, err := s.store.Users.FindByID(ctx, account.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	applyProviderTokens(account, info, s.clock())
	if err := s.store.Accounts.UpdateTokens(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account tokens: %w", err)
	}

	slog.Info("existing user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", account.ProviderID),
	)
	return user, nil
}

func (s *Service) linkOrCreateUser(ctx context.Context, providerID string, info *OAuthUserInfo) (*model.User, error) {
	email, err := normalizeEmail(info.Email)
	if err != nil {
		return nil, model.NewBadRequestError("IdPからメールアドレスを取得できませんでした")
	}
	now := s.clock()

	newAccount := func(userID string) *model.Account {
		a := &model.Account{
			ID:         uuid.NewString(),
			UserID:     userID,
			AccountID:  info.ProviderUserID,
			ProviderID: providerID,
			CreatedAt:  now,
		}
		applyProviderTokens(a, info, now)
		return a
	}

	existing, err := s.store.Users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	// 確認済みメールアドレスが一致する既存ユーザーにはアカウントを紐付ける
	if existing != nil {
		if !info.EmailVerified {
			return nil, model.NewUserAlreadyExistsError()
		}
		if err := s.store.Accounts.Create(ctx, newAccount(existing.ID)); err != nil {
			return nil, fmt.Errorf("failed to link account: %w", err)
		}
		if !existing.EmailVerified {
			existing.EmailVerified = true
			existing.UpdatedAt = now
			if err := s.store.Users.Update(ctx, existing); err != nil {
				return nil, fmt.Errorf("failed to mark email verified: %w", err)
			}
		}
		slog.Info("account linked",
			slog.String("user_id", existing.ID),
			slog.String("provider", providerID),
		)
		return existing, nil
	}

	// IdPの名前は拒否せず上限で切り詰める
	name := truncateRunes(s.sanitizer.Sanitize(info.Name), maxNameLength)
	if name == "" {
		name = truncateRunes(strings.SplitN(email, "@", 2)[0], maxNameLength)
	}
	user := &model.User{
		ID:            uuid.NewString(),
		Name:          name,
		Email:         email,
		EmailVerified: info.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if info.Picture != "" && s.validateImage(info.Picture) == nil {
		user.Image = info.Picture
	}

	if err := s.store.Users.CreateWithAccount(ctx, user, newAccount(user.ID)); err != nil {
		if errors.Is(err, model.ErrDuplicateEmail) {
			return nil, model.NewUserAlreadyExistsError()
		}
		return nil, fmt.Errorf("failed to create user and account: %w", err)
	}
	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("provider", providerID),
	)

	s.mirrorAvatar(ctx, user)
	return user, nil
}

// mirrorAvatar はIdPのプロフィール画像をストレージへ複製する。失敗してもログインは継続する。
func (s *Service) mirrorAvatar(ctx context.Context, user *model.User) {
	if s.avatars == nil || user.Image == "" {
		return
	}
	mirrored, err := s.avatars.Mirror(ctx, user.ID, user.Image)
	if err != nil {
		slog.Warn("avatar mirroring failed", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return
	}
	user.Image = mirrored
	user.UpdatedAt = s.clock()
	if err := s.store.Users.Update(ctx, user); err != nil {
		slog.Warn("failed to store mirrored avatar", slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}
}

func applyProviderTokens(a *model.Account, info *OAuthUserInfo, now time.Time) {
	a.AccessToken = info.AccessToken
	if info.RefreshToken != "" {
		a.RefreshToken = info.RefreshToken
	}
	a.AccessTokenExpiresAt = info.AccessTokenExpiresAt
	a.Scope = info.Scope
	a.IDToken = info.IDToken
	a.UpdatedAt = now
}

// ============================================================
// セッション
// ============================================================

// GetSession はトークンからセッションとユーザーを取得する。
// 期限切れのセッションはその場で削除してエラーを返す。
// 更新間隔を過ぎたセッションは有効期限を延長し、refreshed=trueを返す。
func (s *Service) GetSession(ctx context.Context, token string) (*model.SessionWithUser, bool, error) {
	if token == "" {
		s.validation("missing")
		return nil, false, model.NewUnauthorizedError()
	}

	session, err := s.store.Sessions.FindByToken(ctx, token)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		s.validation("not_found")
		return nil, false, model.NewUnauthorizedError()
	}

	now := s.clock()
	if session.Status(now) == model.SessionStatusExpired {
		if err := s.store.Sessions.DeleteByToken(ctx, token); err != nil {
			slog.Warn("failed to delete expired session", slog.String("user_id", session.UserID), slog.String("error", err.Error()))
		}
		s.validation("expired")
		return nil, false, model.NewSessionExpiredError()
	}

	user, err := s.store.Users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		if err := s.store.Sessions.DeleteByToken(ctx, token); err != nil {
			slog.Warn("failed to delete orphaned session", slog.String("user_id", session.UserID), slog.String("error", err.Error()))
		}
		s.validation("orphaned")
		return nil, false, model.NewUnauthorizedError()
	}

	refreshed := false
	if s.shouldRefresh(session, now) {
		expiresAt := now.Add(s.config.SessionMaxAge)
		if err := s.store.Sessions.UpdateExpiry(ctx, session.ID, expiresAt, now); err != nil {
			slog.Warn("failed to refresh session", slog.String("user_id", session.UserID), slog.String("error", err.Error()))
		} else {
			session.ExpiresAt = expiresAt
			session.UpdatedAt = now
			refreshed = true
		}
	}

	s.validation("valid")
	return &model.SessionWithUser{Session: session, User: user}, refreshed, nil
}

// shouldRefresh はスライディング更新の要否を返す。
// rememberMe=falseで発行した短期セッションは延長しない。
func (s *Service) shouldRefresh(session *model.Session, now time.Time) bool {
	if !session.RememberMe {
		return false
	}
	return now.Sub(session.UpdatedAt) >= s.config.SessionUpdateAge
}

// IsPersistent はセッションCookieに有効期限を付けるべきかを返す。
func (s *Service) IsPersistent(session *model.Session) bool {
	return session.RememberMe
}

// SignOut はセッションを破棄する。
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return model.NewUnauthorizedError()
	}
	if err := s.store.Sessions.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.event("sign_out", "success")
	return nil
}

// ListSessions はユーザーの有効なセッション一覧を返す。
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*model.Session, error) {
	sessions, err := s.store.Sessions.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	now := s.clock()
	active := make([]*model.Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.Status(now) == model.SessionStatusActive {
			active = append(active, sess)
		}
	}
	return active, nil
}

// RevokeSession はユーザー自身のセッションを1つ失効させる。
func (s *Service) RevokeSession(ctx context.Context, userID, token string) error {
	session, err := s.store.Sessions.FindByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != userID {
		return model.NewSessionNotFoundError()
	}
	if err := s.store.Sessions.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	s.event("revoke_session", "success")
	return nil
}

// RevokeSessions はユーザーの全セッションを失効させる。
func (s *Service) RevokeSessions(ctx context.Context, userID string) error {
	if err := s.store.Sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	s.event("revoke_sessions", "success")
	return nil
}

// RevokeOtherSessions は現在のセッション以外を失効させる。
func (s *Service) RevokeOtherSessions(ctx context.Context, userID, currentToken string) error {
	if err := s.store.Sessions.DeleteByUserIDExcept(ctx, userID, currentToken); err != nil {
		return fmt.Errorf("failed to revoke other sessions: %w", err)
	}
	s.event("revoke_other_sessions", "success")
	return nil
}

// ============================================================
// ユーザー情報
// ============================================================

// UpdateUserInput はユーザー情報更新の入力。nilのフィールドは変更しない。
type UpdateUserInput struct {
	Name  *string
	Image *string
}

// UpdateUser は表示名とアバター画像URLを更新する。
func (s *Service) UpdateUser(ctx context.Context, userID string, in UpdateUserInput) (*model.User, error) {
	user, err := s.store.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	if in.Name != nil {
		name, err := s.displayName(*in.Name)
		if err != nil {
			return nil, err
		}
		user.Name = name
	}
	if in.Image != nil {
		if *in.Image != "" {
			if err := s.validateImage(*in.Image); err != nil {
				return nil, err
			}
		}
		user.Image = *in.Image
	}

	user.UpdatedAt = s.clock()
	if err := s.store.Users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// ChangePasswordInput はパスワード変更の入力。
type ChangePasswordInput struct {
	CurrentPassword     string
	NewPassword         string
	RevokeOtherSessions bool
	Meta                RequestMeta
}

// ChangePassword は現在のパスワードを確認して新しいパスワードを設定する。
// RevokeOtherSessionsが指定された場合は全セッションを失効させ、新しいセッションを返す。
func (s *Service) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) (*model.Session, error) {
	if err := validatePasswordLength(in.NewPassword, s.config.PasswordMinLength, s.config.PasswordMaxLength); err != nil {
		return nil, err
	}

	account, err := s.store.Accounts.FindByUserAndProvider(ctx, userID, model.ProviderCredential)
	if err != nil {
		return nil, fmt.Errorf("failed to find credential account: %w", err)
	}
	if account == nil {
		return nil, model.NewCredentialAccountNotFoundError()
	}
	if !VerifyPassword(account.Password, in.CurrentPassword) {
		s.event("change_password", "failure")
		return nil, model.NewInvalidPasswordError()
	}

	hash, err := HashPassword(in.NewPassword)
	if err != nil {
		return nil, err
	}
	if err := s.store.Accounts.UpdatePassword(ctx, userID, hash); err != nil {
		return nil, fmt.Errorf("failed to update password: %w", err)
	}
	s.event("change_password", "success")

	if !in.RevokeOtherSessions {
		return nil, nil
	}
	if err := s.store.Sessions.DeleteByUserID(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return s.createSession(ctx, userID, in.Meta, true)
}

// DeleteUser はユーザーを削除する。credentialアカウントを持つ場合はパスワード確認を行う。
func (s *Service) DeleteUser(ctx context.Context, userID, password string) error {
	account, err := s.store.Accounts.FindByUserAndProvider(ctx, userID, model.ProviderCredential)
	if err != nil {
		return fmt.Errorf("failed to find credential account: %w", err)
	}
	if account != nil && !VerifyPassword(account.Password, password) {
		return model.NewInvalidPasswordError()
	}

	if err := s.withdrawer.Withdraw(ctx, userID); err != nil {
		return err
	}
	s.event("delete_user", "success")
	return nil
}

// ============================================================
// パスワードリセット / メールアドレス確認
// ============================================================

// RequestPasswordReset はパスワードリセットメールを送信する。
// ユーザーの存在有無にかかわらず成功を返す。
func (s *Service) RequestPasswordReset(ctx context.Context, rawEmail, redirectTo string) error {
	redirectTo, err := s.redirects.Validate(redirectTo)
	if err != nil {
		return err
	}
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	user, err := s.store.Users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Debug("password reset requested for unknown email")
		return nil
	}
	if !s.throttle.Allow(ctx, "reset:"+email) {
		slog.Warn("password reset throttled", slog.String("user_id", user.ID))
		s.event("request_password_reset", "throttled")
		return nil
	}

	token, err := s.issueVerification(ctx, user, model.PurposeResetPassword, s.config.ResetTokenTTL)
	if err != nil {
		return err
	}

	link := s.config.BaseURL + "/api/auth/reset-password/" + token + "?callbackURL=" + url.QueryEscape(redirectTo)
	s.notifier.SendPasswordReset(ctx, user.Email, user.Name, link)
	s.event("request_password_reset", "success")
	return nil
}

// CheckResetToken はリセットトークンを消費せずに有効性だけを確認する。
func (s *Service) CheckResetToken(ctx context.Context, token string) error {
	if token == "" {
		return model.NewInvalidTokenError()
	}
	v, err := s.store.Verifications.FindByTokenHash(ctx, model.PurposeResetPassword, HashToken(token))
	if err != nil {
		return fmt.Errorf("failed to find verification: %w", err)
	}
	if v == nil || v.Expired(s.clock()) {
		return model.NewInvalidTokenError()
	}
	return nil
}

// ResetPassword はリセットトークンを原子的に消費し、新しいパスワードを設定する。
// 同じトークンは1回しか使えない。
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return model.NewInvalidTokenError()
	}
	if err := validatePasswordLength(newPassword, s.config.PasswordMinLength, s.config.PasswordMaxLength); err != nil {
		return err
	}

	now := s.clock()
	v, err := s.store.Verifications.Consume(ctx, model.PurposeResetPassword, HashToken(token), now)
	if err != nil {
		return fmt.Errorf("failed to consume reset token: %w", err)
	}
	if v == nil {
		s.event("reset_password", "invalid_token")
		return model.NewInvalidTokenError()
	}

	user, err := s.store.Users.FindByID(ctx, v.Value)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewInvalidTokenError()
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	account, err := s.store.Accounts.FindByUserAndProvider(ctx, user.ID, model.ProviderCredential)
	if err != nil {
		return fmt.Errorf("failed to find credential account: %w", err)
	}
	if account == nil {
		// ソーシャルログインのみのユーザーはここで初めてパスワードを持つ
		err = s.store.Accounts.Create(ctx, &model.Account{
			ID:         uuid.NewString(),
			UserID:     user.ID,
			AccountID:  user.ID,
			ProviderID: model.ProviderCredential,
			Password:   hash,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	} else {
		err = s.store.Accounts.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}

	if s.config.RevokeSessionsOnReset {
		if err := s.store.Sessions.DeleteByUserID(ctx, user.ID); err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
	}

	slog.Info("password reset", slog.String("user_id", user.ID))
	s.event("reset_password", "success")
	return nil
}

// SendVerificationEmail は確認メールを（再）送信する。
// 未登録・確認済みのメールアドレスでも成功を返す。
func (s *Service) SendVerificationEmail(ctx context.Context, rawEmail, callbackURL string) error {
	callbackURL, err := s.redirects.Validate(callbackURL)
	if err != nil {
		return err
	}
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	user, err := s.store.Users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.EmailVerified {
		return nil
	}
	s.sendVerification(ctx, user, callbackURL)
	return nil
}

// VerifyEmail は確認トークンを消費してメールアドレスを確認済みにする。
// 設定により、そのままセッションを発行する。
func (s *Service) VerifyEmail(ctx context.Context, token string, meta RequestMeta) (*AuthResult, error) {
	if token == "" {
		return nil, model.NewInvalidTokenError()
	}
	now := s.clock()
	v, err := s.store.Verifications.Consume(ctx, model.PurposeEmailVerification, HashToken(token), now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification token: %w", err)
	}
	if v == nil {
		s.event("verify_email", "invalid_token")
		return nil, model.NewInvalidTokenError()
	}

	user, err := s.store.Users.FindByID(ctx, v.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	// 発行後にメールアドレスが変わった場合は無効
	if user == nil || user.Email != v.Identifier {
		return nil, model.NewInvalidTokenError()
	}

	if !user.EmailVerified {
		user.EmailVerified = true
		user.UpdatedAt = now
		if err := s.store.Users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	}
	slog.Info("email verified", slog.String("user_id", user.ID))
	s.event("verify_email", "success")

	if !s.config.AutoSignInAfterVerification {
		return &AuthResult{User: user}, nil
	}
	session, err := s.createSession(ctx, user.ID, meta, true)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Session: session, RememberMe: true}, nil
}

// ValidateRedirect はリダイレクト先URLを検証する。
func (s *Service) ValidateRedirect(raw string) (string, error) {
	return s.redirects.Validate(raw)
}

// ProviderEnabled は指定IdPが有効かどうかを返す。
func (s *Service) ProviderEnabled(providerID string) bool {
	_, ok := s.providers[providerID]
	return ok
}

func (s *Service) sendVerification(ctx context.Context, user *model.User, callbackURL string) {
	if !s.throttle.Allow(ctx, "verify:"+user.Email) {
		slog.Warn("verification email throttled", slog.String("user_id", user.ID))
		s.event("send_verification_email", "throttled")
		return
	}
	token, err := s.issueVerification(ctx, user, model.PurposeEmailVerification, s.config.VerificationTokenTTL)
	if err != nil {
		slog.Error("failed to issue verification token", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return
	}
	link := s.config.BaseURL + "/api/auth/verify-email?token=" + token + "&callbackURL=" + url.QueryEscape(callbackURL)
	s.notifier.SendVerification(ctx, user.Email, user.Name, link)
	s.event("send_verification_email", "success")
}

// issueVerification は既存のトークンを破棄して新しい単回使用トークンを発行する。
// 保存するのはハッシュのみで、平文トークンは戻り値としてメールにだけ載せる。
func (s *Service) issueVerification(ctx context.Context, user *model.User, purpose model.VerificationPurpose, ttl time.Duration) (string, error) {
	if err := s.store.Verifications.DeleteByIdentifier(ctx, user.Email, purpose); err != nil {
		return "", fmt.Errorf("failed to delete previous tokens: %w", err)
	}
	token, err := generateToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	now := s.clock()
	v := &model.Verification{
		ID:         uuid.NewString(),
		Identifier: user.Email,
		Purpose:    purpose,
		TokenHash:  HashToken(token),
		Value:      user.ID,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Verifications.Create(ctx, v); err != nil {
		return "", fmt.Errorf("failed to save verification: %w", err)
	}
	return token, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string, meta RequestMeta, remember bool) (*model.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	maxAge := s.config.SessionMaxAge
	if !remember {
		maxAge = s.config.ShortSessionMaxAge
	}
	now := s.clock()
	session := &model.Session{
		ID:         uuid.NewString(),
		Token:      token,
		UserID:     userID,
		ExpiresAt:  now.Add(maxAge),
		IPAddress:  normalizeIP(meta.IPAddress),
		UserAgent:  truncateRunes(strings.ToValidUTF8(meta.UserAgent, ""), maxUserAgentLength),
		CreatedAt:  now,
		UpdatedAt:  now,
		RememberMe: remember,
	}

	if err := s.store.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func (s *Service) validateImage(raw string) error {
	if err := s.urlGuard.ValidateURL(raw); err != nil {
		return model.NewInvalidImageURLError(err.Error())
	}
	return nil
}

// clock はDB間で精度を揃えるためミリ秒に丸めた現在時刻を返す。
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) event(event, outcome string) {
	if s.events != nil {
		s.events.RecordAuthEvent(event, outcome)
	}
}

func (s *Service) validation(result string) {
	if s.events != nil {
		s.events.RecordSessionValidation(result)
	}
}

// normalizeEmail はメールアドレスを検証して小文字に正規化する。
// ドメイン部はIDNAのASCII形式に変換する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > 320 {
		return "", model.NewInvalidEmailError()
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", model.NewInvalidEmailError()
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "", model.NewInvalidEmailError()
	}
	// 国際化ドメインはPunycodeで保存する
	domain, err := idna.Lookup.ToASCII(email[at+1:])
	if err != nil || !strings.Contains(domain, ".") {
		return "", model.NewInvalidEmailError()
	}
	return email[:at+1] + domain, nil
}

// displayName は表示名を無害化し、空または長すぎる名前をINVALID_NAMEにする。
func (s *Service) displayName(raw string) (string, error) {
	name := s.sanitizer.Sanitize(raw)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", model.NewInvalidNameError()
	}
	return name, nil
}

// truncateRunes は文字の途中で切らないようにn文字までに切り詰める。
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// normalizeIP はIPアドレスを正規化する。IPとして解釈できない値は保存しない。
func normalizeIP(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return ""
	}
	return ip.String()
}
