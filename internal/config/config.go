// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ストアの種類。
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"planboard.db"`

	// Session
	SessionSecret string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge int           `env:"SESSION_MAX_AGE" envDefault:"86400"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	AdminCode     string        `env:"ADMIN_CODE"`

	// OAuth（GOOGLE_CLIENT_IDが設定された場合のみ有効）
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Rate Limit
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitWrite   int `env:"RATE_LIMIT_WRITE" envDefault:"30"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`

	// Profile cache
	ProfileCacheSize int           `env:"PROFILE_CACHE_SIZE" envDefault:"1024"`
	ProfileCacheTTL  time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`

	// Worker
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// GoogleEnabled はGoogle OAuthログインが設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return &cfg, nil
}

// validate は変数間の整合性を検証する。
func (c *Config) validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of memory, postgres, sqlite: got %q", c.StoreDriver))
	}

	if c.GoogleEnabled() && (c.GoogleClientSecret == "" || c.GoogleRedirectURL == "") {
		errs = append(errs, errors.New("GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL are required when GOOGLE_CLIENT_ID is set"))
	}

	positive := map[string]int{
		"SESSION_MAX_AGE":    c.SessionMaxAge,
		"RATE_LIMIT_GENERAL": c.RateLimitGeneral,
		"RATE_LIMIT_WRITE":   c.RateLimitWrite,
		"RATE_LIMIT_LOGIN":   c.RateLimitLogin,
		"PROFILE_CACHE_SIZE": c.ProfileCacheSize,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive: got %d", name, v))
		}
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must be positive: got %s", c.TokenTTL))
	}
	if c.SessionCleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive: got %s", c.SessionCleanupInterval))
	}

	return errors.Join(errs...)
}
