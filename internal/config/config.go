// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
)

// ストレージドライバーとセッションストアの選択肢。
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	DatabaseURL   string `env:"DATABASE_URL"`
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	SessionStore  string `env:"SESSION_STORE" envDefault:"postgres"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// OAuth（3つすべて設定された場合のみGoogleログインを有効にする）
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Session
	SessionMaxAge          int           `env:"SESSION_MAX_AGE" envDefault:"86400"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`
	BcryptCost             int           `env:"BCRYPT_COST" envDefault:"12"`

	// Upstream
	FactAPIURL        string        `env:"FACT_API_URL" envDefault:"https://catfact.ninja/fact"`
	MockAPIURL        string        `env:"MOCK_API_URL" envDefault:"https://httpbin.org/anything"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`
	UpstreamMaxSize   int64         `env:"UPSTREAM_MAX_SIZE" envDefault:"1048576"`
	UpstreamSSRFGuard bool          `env:"UPSTREAM_SSRF_GUARD" envDefault:"false"`
	MaxFetchCount     int           `env:"MAX_FETCH_COUNT" envDefault:"100"`

	// Rate Limit（req/min）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"10"`

	// Server
	ServerPort        string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL           string `env:"BASE_URL,notEmpty"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	TrustProxyHeaders bool   `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Cookie（CookieSecureはBASE_URLがhttpsかどうかから導出する）
	CookieSecure bool   `env:"-"`
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS（空の場合はCORSヘッダーを付与しない）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FederatedEnabled はGoogleログインの設定が揃っているかどうかを返す。
func (c *Config) FederatedEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// SessionTTL はセッションの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// UsesPostgres はユーザーまたはセッションの保存にPostgreSQLを使うかどうかを返す。
func (c *Config) UsesPostgres() bool {
	return c.StorageDriver == DriverPostgres || c.SessionStore == DriverPostgres
}

func (c *Config) validate() error {
	var missing []string
	var problems []string

	switch c.StorageDriver {
	case DriverPostgres, DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("STORAGE_DRIVER must be postgres or memory, got %q", c.StorageDriver))
	}
	switch c.SessionStore {
	case DriverPostgres, DriverRedis, DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("SESSION_STORE must be postgres, redis or memory, got %q", c.SessionStore))
	}
	if c.SessionStore == DriverPostgres && c.StorageDriver == DriverMemory {
		problems = append(problems, "SESSION_STORE=postgres requires STORAGE_DRIVER=postgres")
	}

	if c.UsesPostgres() && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.SessionStore == DriverRedis && c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}

	// Googleログインの設定は全部か無しのどちらか
	google := map[string]string{
		"GOOGLE_CLIENT_ID":     c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": c.GoogleClientSecret,
		"GOOGLE_REDIRECT_URL":  c.GoogleRedirectURL,
	}
	set := 0
	for _, v := range google {
		if v != "" {
			set++
		}
	}
	if set > 0 && set < len(google) {
		for _, key := range []string{"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URL"} {
			if google[key] == "" {
				missing = append(missing, key)
			}
		}
	}

	if c.SessionMaxAge <= 0 {
		problems = append(problems, "SESSION_MAX_AGE must be positive")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		problems = append(problems, fmt.Sprintf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.MaxFetchCount < 1 {
		problems = append(problems, "MAX_FETCH_COUNT must be at least 1")
	}
	if c.UpstreamTimeout <= 0 {
		problems = append(problems, "UPSTREAM_TIMEOUT must be positive")
	}
	if c.UpstreamMaxSize <= 0 {
		problems = append(problems, "UPSTREAM_MAX_SIZE must be positive")
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		problems = append(problems, "RATE_LIMIT_GENERAL and RATE_LIMIT_AUTH must be positive")
	}
	if c.SessionCleanupInterval <= 0 {
		problems = append(problems, "SESSION_CLEANUP_INTERVAL must be positive")
	}

	if len(missing) > 0 {
		problems = append([]string{fmt.Sprintf("required environment variables are not set: %v", missing)}, problems...)
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
