package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/hr360/internal/auth"
	"github.com/hitoshi/hr360/internal/avatar"
	"github.com/hitoshi/hr360/internal/config"
	"github.com/hitoshi/hr360/internal/database"
	"github.com/hitoshi/hr360/internal/handler"
	"github.com/hitoshi/hr360/internal/logger"
	"github.com/hitoshi/hr360/internal/mail"
	"github.com/hitoshi/hr360/internal/metrics"
	"github.com/hitoshi/hr360/internal/middleware"
	"github.com/hitoshi/hr360/internal/repository"
	"github.com/hitoshi/hr360/internal/security"
	"github.com/hitoshi/hr360/internal/throttle"
	"github.com/hitoshi/hr360/internal/user"
	"github.com/hitoshi/hr360/internal/worker/cleanup"
)

const (
	storeSetupTimeout = 15 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envがあれば環境変数に読み込み、Configを読み込んでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envの読み込み（存在しなければ無視）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. LOG_LEVELを反映
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("database", maskDatabaseURL(cfg.DatabaseURL)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg, MigrateAction(args))
	default:
		return runServe(ctx, cfg)
	}
}

// openStore はDATABASE_URLのスキームに応じてMongoDBまたはPostgreSQLのStoreを開く。
// MongoDBの場合はインデックスを作成する（初回接続もここで行われる）。
func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, error) {
	setupCtx, cancel := context.WithTimeout(ctx, storeSetupTimeout)
	defer cancel()

	if cfg.IsMongo() {
		m := database.NewMongo(cfg.DatabaseURL, cfg.DatabaseName)
		if err := database.EnsureIndexes(setupCtx, m); err != nil {
			return nil, fmt.Errorf("failed to prepare mongodb: %w", err)
		}
		slog.Info("database connection established", slog.String("backend", "mongodb"))
		return repository.NewMongoStore(m), nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(setupCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established", slog.String("backend", "postgres"))
	return repository.NewPostgresStore(db), nil
}

// server はserveモードで組み立てた依存関係。
type server struct {
	handler http.Handler
	closers []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildServer は全依存関係をワイヤリングしてルーターを構築する。
func buildServer(ctx context.Context, cfg *config.Config, store *repository.Store, reg *prometheus.Registry) (*server, error) {
	srv := &server{}
	collector := metrics.NewCollector(reg)

	// 1. セキュリティ
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()
	origins := auth.NewRedirectValidator(cfg.AllowedOrigins())

	// 2. メール送信
	sender, err := newMailSender(cfg)
	if err != nil {
		return nil, err
	}
	notifier, err := mail.NewNotifier(sender, collector, mail.NotifierConfig{
		AppName:         cfg.MailFromName,
		ResetTTL:        cfg.ResetTokenTTL,
		VerificationTTL: cfg.VerificationTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build notifier: %w", err)
	}

	// 3. メール送信スロットル
	limiter, closeLimiter := newEmailThrottle(ctx, cfg)
	srv.closers = append(srv.closers, closeLimiter)

	// 4. アバターストレージ（任意）
	var (
		avatars    auth.AvatarMirror
		presigner  handler.AvatarPresigner
		imageGuard auth.URLValidator = ssrfGuard
	)
	if cfg.AvatarStorageEnabled() {
		storage, err := avatar.New(ctx, avatar.Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		}, ssrfGuard)
		if err != nil {
			return nil, fmt.Errorf("failed to init avatar storage: %w", err)
		}
		avatars, presigner = storage, storage
		imageGuard = ownedImageGuard{guard: ssrfGuard, owns: storage.Owns}
		slog.Info("avatar storage enabled", slog.String("bucket", cfg.S3Bucket))
	}

	// 5. ソーシャルログイン
	var providers []auth.OAuthProvider
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}))
	}

	// 6. ドメインサービス
	userService := user.NewService(store)
	authService := auth.NewService(auth.Deps{
		Store:      store,
		Providers:  providers,
		State:      auth.NewStateSigner(cfg.AuthSecret),
		Redirects:  origins,
		Notifier:   notifier,
		Throttle:   limiter,
		Avatars:    avatars,
		URLGuard:   imageGuard,
		Sanitizer:  sanitizer,
		Withdrawer: userService,
		Events:     collector,
	}, auth.ServiceConfig{
		BaseURL:                     cfg.BaseURL,
		SessionMaxAge:               cfg.SessionMaxAge,
		SessionUpdateAge:            cfg.SessionUpdateAge,
		ResetTokenTTL:               cfg.ResetTokenTTL,
		VerificationTokenTTL:        cfg.VerificationTokenTTL,
		PasswordMinLength:           cfg.PasswordMinLength,
		PasswordMaxLength:           cfg.PasswordMaxLength,
		RequireEmailVerification:    cfg.RequireEmailVerification,
		SendVerificationOnSignUp:    cfg.SendVerificationOnSignUp,
		AutoSignInAfterVerification: cfg.AutoSignInAfterVerification,
		RevokeSessionsOnReset:       cfg.RevokeSessionsOnReset,
	})

	// 7. ルーターの構築（RATE_LIMIT_*はreq/min）
	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSensitive))
	srv.closers = append(srv.closers, rateLimiter.Stop)

	srv.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		StatusRecorder: collector,
		Sessions:       authService,
		Origins:        origins,
		RateLimiter:    rateLimiter,
		Proxies:        proxies,

		AuthService: authService,
		Avatars:     presigner,
		AuthConfig: handler.AuthHandlerConfig{
			ClientURL: cfg.ClientURL,
			Cookie: middleware.CookieConfig{
				Secure: cfg.CookieSecure,
				Domain: cfg.CookieDomain,
			},
		},

		UserService: userService,
		RPCRecorder: collector,

		Store:   store,
		Metrics: metrics.Handler(reg),
	})
	return srv, nil
}

// newRegistry はアプリケーション用のPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newMailSender はMAIL_PROVIDERに応じた送信実装を返す。
func newMailSender(cfg *config.Config) (mail.Sender, error) {
	switch cfg.MailProvider {
	case config.MailProviderSMTP:
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			FromName: cfg.MailFromName,
			UseTLS:   cfg.SMTPUseTLS,
		})
	case config.MailProviderSendGrid:
		return mail.NewSendGridSender(cfg.SendGridAPIKey, cfg.MailFrom, cfg.MailFromName)
	default:
		slog.Warn("mail provider is log; emails are not delivered")
		return mail.NewLogSender(slog.Default()), nil
	}
}

// newEmailThrottle はREDIS_ADDRがあればRedis、なければメモリのスロットルを返す。
// 2つ目の戻り値は終了時に呼ぶクリーンアップ関数。
func newEmailThrottle(ctx context.Context, cfg *config.Config) (throttle.Limiter, func()) {
	if cfg.RedisAddr == "" {
		mem := throttle.NewMemoryLimiter(cfg.EmailThrottleWindow, cfg.EmailThrottleMax)
		cleanupCtx, cancel := context.WithCancel(ctx)
		mem.StartCleanup(cleanupCtx, cfg.EmailThrottleWindow)
		return mem, cancel
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// 起動は継続する（スロットルはRedis障害時にfail-openする）
		slog.Warn("redis is not reachable", slog.String("error", err.Error()))
	}
	return throttle.NewRedisLimiter(client, cfg.EmailThrottleWindow, cfg.EmailThrottleMax), func() {
		client.Close()
	}
}

// ownedImageGuard は自前のアバターストレージのURLだけSSRF検証を省略するURLValidator。
type ownedImageGuard struct {
	guard auth.URLValidator
	owns  func(rawURL string) bool
}

func (g ownedImageGuard) ValidateURL(rawURL string) error {
	if g.owns(rawURL) {
		return nil
	}
	return g.guard.ValidateURL(rawURL)
}

// runServe はAPIサーバーモードで起動する。
// Storeを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	srv, err := buildServer(ctx, cfg, store, newRegistry())
	if err != nil {
		return err
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッション・トークンのクリーンアップを起動直後と以降CLEANUP_INTERVALごとに実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	job := cleanup.NewJob(store.Sessions, store.Verifications, slog.Default())
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はスキーマを準備する。
// PostgreSQLはgolang-migrateでup/down/versionを実行し、MongoDBはインデックスを作成する。
func runMigrate(ctx context.Context, cfg *config.Config, action string) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("action", action),
	)

	if cfg.IsMongo() {
		m := database.NewMongo(cfg.DatabaseURL, cfg.DatabaseName)
		defer m.Close(context.Background())

		setupCtx, cancel := context.WithTimeout(ctx, storeSetupTimeout)
		defer cancel()
		if err := database.EnsureIndexes(setupCtx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("mongodb indexes are up to date")
		return nil
	}

	switch action {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	masked := u.Scheme + "://"
	if u.User != nil {
		masked += "***@"
	}
	return masked + u.Host + u.Path
}
