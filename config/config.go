// Package config loads node configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/partymesh/party"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Redis addresses the shared store and bus.
type Redis struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// Options converts r into go-redis client options.
func (r Redis) Options() *redis.Options {
	return &redis.Options{
		Addr:     r.Addr,
		Username: r.Username,
		Password: r.Password,
		DB:       r.DB,
	}
}

// Config is the complete node configuration. List values are separated by
// semicolons.
type Config struct {
	Redis Redis

	// KeyPrefix namespaces every store key. ENV: PARTY_KEY_PREFIX
	KeyPrefix string `env:"PARTY_KEY_PREFIX"`
	// RequestExpires is the invitation lifetime. ENV: PARTY_REQUEST_EXPIRES
	RequestExpires     time.Duration `env:"PARTY_REQUEST_EXPIRES,default=90s"`
	UseMemberLimit     bool          `env:"PARTY_USE_MEMBER_LIMIT,default=true"`
	DefaultMemberLimit int           `env:"PARTY_DEFAULT_MEMBER_LIMIT,default=5"`

	// Workers and QueueSize size the command executor.
	Workers   int `env:"PARTY_WORKERS,default=4"`
	QueueSize int `env:"PARTY_QUEUE_SIZE,default=256"`

	// MessagesFile overrides built-in messages and is reloaded on change.
	MessagesFile string `env:"PARTY_MESSAGES_FILE"`
	// SettingsDSN is a sqlite path for player settings. Empty keeps
	// settings in the shared store. A sqlite file must be shared by every
	// node for opt-outs to hold mesh-wide.
	SettingsDSN string `env:"PARTY_SETTINGS_DSN"`

	FollowWhitelist []string `env:"PARTY_FOLLOW_WHITELIST"`
	FollowBlacklist []string `env:"PARTY_FOLLOW_BLACKLIST,default=^Lobby.*"`

	LogLevel string `env:"PARTY_LOG_LEVEL,default=info"`
}

// Load decodes Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects inconsistent values.
func (c Config) Validate() error {
	var errs []error
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB must not be negative, got %d", c.Redis.DB))
	}
	if c.RequestExpires <= 0 {
		errs = append(errs, fmt.Errorf("PARTY_REQUEST_EXPIRES must be positive, got %s", c.RequestExpires))
	}
	if c.UseMemberLimit && (c.DefaultMemberLimit < 1 || c.DefaultMemberLimit > party.MaxMemberLimit) {
		errs = append(errs, fmt.Errorf("PARTY_DEFAULT_MEMBER_LIMIT must be within 1..%d, got %d", party.MaxMemberLimit, c.DefaultMemberLimit))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("PARTY_WORKERS must be at least 1, got %d", c.Workers))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("PARTY_QUEUE_SIZE must not be negative, got %d", c.QueueSize))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("PARTY_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// Keys returns the store key layout for KeyPrefix.
func (c Config) Keys() party.Keys { return party.Keys{Prefix: c.KeyPrefix} }
