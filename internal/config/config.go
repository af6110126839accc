// Package config loads the service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	auth "github.com/goliatone/go-session-auth"
)

// Config holds the service configuration. Token and lockout durations are
// expressed in minutes.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is a postgres DSN (postgres://...) or a sqlite DSN. Empty
	// uses an in memory sqlite database.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL enables the redis session store when set (redis://host:port/db).
	RedisURL string `mapstructure:"REDIS_URL"`

	JWTSecret  string `mapstructure:"JWT_SECRET"`
	JWTSecretX string `mapstructure:"JWT_SECRET_X"`
	JWTIssuer  string `mapstructure:"JWT_ISSUER"`

	AccessTokenExpMinutes  int `mapstructure:"ACCESS_TOKEN_EXP_DURATION"`
	RefreshTokenExpMinutes int `mapstructure:"REFRESH_TOKEN_EXP_DURATION"`
	AccountLockMinutes     int `mapstructure:"ACCOUNT_LOCK_DURATION"`
	MaxLoginAttempts       int `mapstructure:"MAX_LOGIN_ATTEMPTS"`

	// StoreTimeout bounds every store call (e.g. "5s").
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`
	// RefreshFailurePolicy is "keep" or "revoke".
	RefreshFailurePolicy string `mapstructure:"REFRESH_FAILURE_POLICY"`
	// PurgeInterval is how often expired sessions are deleted (e.g. "10m").
	PurgeInterval string `mapstructure:"SESSION_PURGE_INTERVAL"`

	Env   string `mapstructure:"APP_ENV"`
	Debug bool   `mapstructure:"DEBUG"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_SECRET_X", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("ACCESS_TOKEN_EXP_DURATION", 15)
	v.SetDefault("REFRESH_TOKEN_EXP_DURATION", 240)
	v.SetDefault("ACCOUNT_LOCK_DURATION", 1)
	v.SetDefault("MAX_LOGIN_ATTEMPTS", auth.DefaultMaxLoginAttempts)
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("REFRESH_FAILURE_POLICY", string(auth.RefreshFailureKeep))
	v.SetDefault("SESSION_PURGE_INTERVAL", "10m")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DEBUG", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.JWTSecret == "" || cfg.JWTSecretX == "" {
		return nil, errors.New("config: JWT_SECRET and JWT_SECRET_X must be set")
	}

	if _, err := time.ParseDuration(cfg.StoreTimeout); err != nil {
		return nil, errors.New("config: STORE_TIMEOUT must be a duration")
	}

	return &cfg, nil
}

// AuthOptions maps the service config onto the auth options.
func (c *Config) AuthOptions() auth.Options {
	return auth.Options{
		AccessTokenSecret:      c.JWTSecret,
		RefreshTokenSecret:     c.JWTSecretX,
		AccessTokenExpiration:  auth.Minutes(c.AccessTokenExpMinutes),
		RefreshTokenExpiration: auth.Minutes(c.RefreshTokenExpMinutes),
		LockoutDuration:        auth.Minutes(c.AccountLockMinutes),
		MaxLoginAttempts:       c.MaxLoginAttempts,
		Issuer:                 c.JWTIssuer,
		StoreTimeout:           parseDuration(c.StoreTimeout, auth.DefaultStoreTimeout),
		RefreshFailurePolicy:   auth.ParseRefreshFailurePolicy(c.RefreshFailurePolicy),
	}
}

// SessionPurgeInterval returns the purge interval, 0 disables purging.
func (c *Config) SessionPurgeInterval() time.Duration {
	return parseDuration(c.PurgeInterval, 0)
}

// UsePostgres reports whether DatabaseURL points at postgres.
func (c *Config) UsePostgres() bool {
	u := strings.ToLower(c.DatabaseURL)
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

// SQLiteDSN returns the sqlite DSN, an in memory shared database by default.
func (c *Config) SQLiteDSN() string {
	if c.DatabaseURL == "" {
		return "file::memory:?cache=shared"
	}
	return c.DatabaseURL
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
