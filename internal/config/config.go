package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// メール送信プロバイダー
const (
	MailProviderLog      = "log"
	MailProviderSMTP     = "smtp"
	MailProviderSendGrid = "sendgrid"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL  string `env:"DATABASE_URL" envDefault:"mongodb://localhost:27017"`
	DatabaseName string `env:"DATABASE_NAME" envDefault:"hr360"`

	// Server
	ServerPort     string   `env:"PORT" envDefault:"3000"`
	BaseURL        string   `env:"BASE_URL" envDefault:"http://localhost:3000"`
	ClientURL      string   `env:"CLIENT_URL" envDefault:"http://localhost:5173"`
	TrustedOrigins []string `env:"TRUSTED_ORIGINS" envSeparator:","`

	// Auth
	AuthSecret         string `env:"AUTH_SECRET"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Session / Token
	SessionMaxAge               time.Duration `env:"SESSION_MAX_AGE" envDefault:"168h"`
	SessionUpdateAge            time.Duration `env:"SESSION_UPDATE_AGE" envDefault:"24h"`
	ResetTokenTTL               time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	VerificationTokenTTL        time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"24h"`
	PasswordMinLength           int           `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	PasswordMaxLength           int           `env:"PASSWORD_MAX_LENGTH" envDefault:"128"`
	RequireEmailVerification    bool          `env:"REQUIRE_EMAIL_VERIFICATION" envDefault:"false"`
	SendVerificationOnSignUp    bool          `env:"SEND_VERIFICATION_ON_SIGN_UP" envDefault:"false"`
	AutoSignInAfterVerification bool          `env:"AUTO_SIGN_IN_AFTER_VERIFICATION" envDefault:"true"`
	RevokeSessionsOnReset       bool          `env:"REVOKE_SESSIONS_ON_PASSWORD_RESET" envDefault:"true"`

	// Mail
	MailProvider   string `env:"MAIL_PROVIDER" envDefault:"log"`
	SMTPHost       string `env:"SMTP_HOST" envDefault:"smtp.gmail.com"`
	SMTPPort       int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser       string `env:"SMTP_USER"`
	SMTPPassword   string `env:"SMTP_PASSWORD"`
	SMTPUseTLS     bool   `env:"SMTP_USE_TLS" envDefault:"false"`
	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
	MailFrom       string `env:"MAIL_FROM"`
	MailFromName   string `env:"MAIL_FROM_NAME" envDefault:"HR.360"`

	// Redis（メール送信スロットル）
	RedisAddr           string        `env:"REDIS_ADDR"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	RedisDB             int           `env:"REDIS_DB" envDefault:"0"`
	EmailThrottleWindow time.Duration `env:"EMAIL_THROTTLE_WINDOW" envDefault:"10m"`
	EmailThrottleMax    int           `env:"EMAIL_THROTTLE_MAX" envDefault:"3"`

	// Rate Limit
	RateLimitGeneral   int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitSensitive int `env:"RATE_LIMIT_SENSITIVE" envDefault:"10"`
	// X-Forwarded-Forを信頼するプロキシ（CIDRまたはIP）。空ならRemoteAddrのみ使う
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Avatar (S3 / MinIO)
	S3Bucket        string `env:"S3_BUCKET"`
	S3Region        string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint      string `env:"S3_ENDPOINT"`
	S3AccessKey     string `env:"S3_ACCESS_KEY"`
	S3SecretKey     string `env:"S3_SECRET_KEY"`
	S3PublicBaseURL string `env:"S3_PUBLIC_BASE_URL"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// Worker
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値の組み合わせが不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.ClientURL = strings.TrimRight(cfg.ClientURL, "/")
	if cfg.GoogleRedirectURL == "" {
		cfg.GoogleRedirectURL = cfg.BaseURL + "/api/auth/callback/google"
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.MailProvider = strings.ToLower(strings.TrimSpace(cfg.MailProvider))
	if cfg.MailFrom == "" {
		cfg.MailFrom = cfg.SMTPUser
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.AuthSecret == "" {
		errs = append(errs, errors.New("required environment variables are not set: [AUTH_SECRET]"))
	}
	for _, raw := range []string{c.BaseURL, c.ClientURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid absolute URL: %q", raw))
		}
	}

	switch c.MailProvider {
	case MailProviderLog:
	case MailProviderSMTP:
		if c.SMTPHost == "" {
			errs = append(errs, errors.New("SMTP_HOST is required when MAIL_PROVIDER=smtp"))
		}
	case MailProviderSendGrid:
		if c.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required when MAIL_PROVIDER=sendgrid"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_PROVIDER: %q", c.MailProvider))
	}

	if c.SessionUpdateAge >= c.SessionMaxAge {
		errs = append(errs, errors.New("SESSION_UPDATE_AGE must be shorter than SESSION_MAX_AGE"))
	}
	if c.PasswordMinLength <= 0 || c.PasswordMaxLength < c.PasswordMinLength {
		errs = append(errs, errors.New("PASSWORD_MIN_LENGTH/PASSWORD_MAX_LENGTH are inconsistent"))
	}

	return errors.Join(errs...)
}

// GoogleEnabled はGoogleログインが有効かどうかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// AvatarStorageEnabled はS3アバターストレージが有効かどうかを返す。
func (c *Config) AvatarStorageEnabled() bool {
	return c.S3Bucket != ""
}

// IsMongo はDATABASE_URLがMongoDBを指しているかどうかを返す。
func (c *Config) IsMongo() bool {
	return strings.HasPrefix(c.DatabaseURL, "mongodb://") ||
		strings.HasPrefix(c.DatabaseURL, "mongodb+srv://")
}

// AllowedOrigins はCORS・Originチェック・リダイレクト検証で信頼するOriginの一覧を返す。
// CLIENT_URLとBASE_URLは常に含まれる。
func (c *Config) AllowedOrigins() []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range append([]string{c.ClientURL, c.BaseURL}, c.TrustedOrigins...) {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}
