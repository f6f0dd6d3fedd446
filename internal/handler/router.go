package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hr360/internal/middleware"
	"github.com/hitoshi/hr360/internal/rpc"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger         *slog.Logger
	StatusRecorder middleware.StatusRecorder
	Sessions       middleware.SessionValidator
	Origins        middleware.OriginChecker
	RateLimiter    *middleware.RateLimiter
	Proxies        *middleware.TrustedProxies // nilならX-Forwarded-Forを使わない

	// 認証
	AuthService AuthServiceInterface
	Avatars     AvatarPresigner // nilならアバターアップロード無効
	AuthConfig  AuthHandlerConfig

	// tRPC
	UserService UserServiceInterface
	RPCRecorder rpc.Recorder

	// システム
	Store   Pinger
	Metrics http.Handler // nilなら/metricsを公開しない
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → ClientIP → Logging → SecurityHeaders → CORS
//	  → (/api/auth, /trpc) OriginCheck → RateLimit(General) → [Sensitive] → Session
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewClientIPMiddleware(deps.Proxies))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.Origins))

	cookie := deps.AuthConfig.Cookie
	requireSession := middleware.NewSessionMiddleware(deps.Sessions, cookie)
	optionalSession := middleware.NewOptionalSessionMiddleware(deps.Sessions, cookie)
	sensitive := deps.RateLimiter.SensitiveMiddleware()

	authHandler := NewAuthHandler(deps.AuthService, deps.Avatars, deps.AuthConfig)
	systemHandler := NewSystemHandler(deps.Store, deps.AuthConfig.ClientURL)

	rpcRouter := rpc.NewRouter(deps.RPCRecorder)
	NewUserHandler(deps.UserService).Register(rpcRouter)

	// --- システム ---
	r.Get("/", systemHandler.Root)
	r.Get("/health", systemHandler.Health)
	r.With(optionalSession).Get("/dashboard", systemHandler.Dashboard)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- API ---
	// ミドルウェアスタック: OriginCheck → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOriginCheckMiddleware(deps.Origins))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/auth", func(r chi.Router) {
			// 認証不要（総当たり対策で認証系レート制限を追加）
			r.With(sensitive).Post("/sign-up/email", authHandler.SignUpEmail)
			r.With(sensitive).Post("/sign-in/email", authHandler.SignInEmail)
			r.With(sensitive).Post("/request-password-reset", authHandler.RequestPasswordReset)
			r.With(sensitive).Post("/forget-password", authHandler.RequestPasswordReset)
			r.With(sensitive).Post("/reset-password", authHandler.ResetPassword)
			r.With(sensitive, optionalSession).Post("/send-verification-email", authHandler.SendVerificationEmail)

			r.Post("/sign-in/social", authHandler.SocialSignIn)
			r.Get("/sign-in/social", authHandler.SocialSignIn)
			r.Get("/callback/{provider}", authHandler.Callback)
			r.Get("/reset-password/{token}", authHandler.ResetPasswordCallback)
			r.Get("/verify-email", authHandler.VerifyEmail)
			r.Post("/sign-out", authHandler.SignOut)
			r.Get("/ok", authHandler.Ok)
			r.With(optionalSession).Get("/get-session", authHandler.GetSession)

			// 要ログイン
			r.Group(func(r chi.Router) {
				r.Use(requireSession)

				r.Get("/list-sessions", authHandler.ListSessions)
				r.Post("/revoke-session", authHandler.RevokeSession)
				r.Post("/revoke-sessions", authHandler.RevokeSessions)
				r.Post("/revoke-other-sessions", authHandler.RevokeOtherSessions)
				r.Post("/update-user", authHandler.UpdateUser)
				r.Post("/change-password", authHandler.ChangePassword)
				r.Post("/delete-user", authHandler.DeleteUser)
				r.Post("/avatar/upload-url", authHandler.AvatarUploadURL)
			})
		})

		// tRPC: 保護プロシージャはコンテキストのセッションで判定する
		r.With(optionalSession).Handle("/trpc/*", http.StripPrefix("/trpc", rpcRouter))
	})

	return r
}
