package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the LibriMomsClub bot.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Bot       BotConfig       `mapstructure:"bot"`
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Library   LibraryConfig   `mapstructure:"library"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Push      PushConfig      `mapstructure:"push"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Admin     AdminConfig     `mapstructure:"admin"`
	I18n      I18nConfig      `mapstructure:"i18n"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	// File enables a rotated log file in addition to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// BotConfig configures the Telegram transport.
type BotConfig struct {
	Token   string        `mapstructure:"token" validate:"required"`
	Mode    string        `mapstructure:"mode" validate:"omitempty,oneof=polling webhook"`
	Timeout time.Duration `mapstructure:"timeout"`
	// WebhookListen is the listen address used when Mode is webhook.
	WebhookListen string `mapstructure:"webhook_listen"`
	WebhookURL    string `mapstructure:"webhook_url" validate:"required_if=Mode webhook"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// PublicURL is how the backend reaches this process, used for push subscription endpoints.
	PublicURL string `mapstructure:"public_url" validate:"omitempty,url"`
}

// APIConfig describes the LibriMomsClub backend.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	WSURL   string        `mapstructure:"ws_url" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout"`
	// BreakerThreshold is the failure ratio that opens the circuit.
	BreakerThreshold float64       `mapstructure:"breaker_threshold" validate:"gte=0,lte=1"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type PresenceConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type LibraryConfig struct {
	PageSize          int `mapstructure:"page_size" validate:"gte=1,lte=100"`
	ActivityLimit     int `mapstructure:"activity_limit" validate:"gte=1"`
	AdminActionLimit  int `mapstructure:"admin_action_limit" validate:"gte=1"`
	NotificationLimit int `mapstructure:"notification_limit" validate:"gte=1"`
}

type RedisConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	StateTTL        time.Duration `mapstructure:"state_ttl"`
}

type DatabaseConfig struct {
	Host          string `mapstructure:"host" validate:"required"`
	Port          string `mapstructure:"port"`
	User          string `mapstructure:"user" validate:"required"`
	Password      string `mapstructure:"password"`
	Name          string `mapstructure:"name" validate:"required"`
	SSLMode       string `mapstructure:"ssl_mode"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// StorageConfig configures the optional S3 destination for material covers.
type StorageConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Endpoint      string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	PublicBaseURL string `mapstructure:"public_base_url" validate:"required_if=Enabled true"`
}

type PushConfig struct {
	VAPIDPublicKey string `mapstructure:"vapid_public_key"`
}

// PaymentsConfig lists the plans offered in the bot. ReturnURL is where YooKassa sends the user back.
type PaymentsConfig struct {
	Plans     []string `mapstructure:"plans" validate:"dive,oneof=month quarter year"`
	ReturnURL string   `mapstructure:"return_url" validate:"omitempty,url"`
}

type JobsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Concurrency    int    `mapstructure:"concurrency"`
	DigestSchedule string `mapstructure:"digest_schedule"`
}

// RateLimitRule is a limit per window, e.g. 30 per "1m".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}

type RateLimitConfig struct {
	Enabled   bool                `mapstructure:"enabled"`
	PerUser   RateLimitRule       `mapstructure:"per_user"`
	Actions   RateLimitActionsMap `mapstructure:"actions"`
	Whitelist []int64             `mapstructure:"whitelist"`
}

// RateLimitActionsMap holds stricter limits for expensive actions.
type RateLimitActionsMap struct {
	Favorite  RateLimitRule `mapstructure:"favorite"`
	Broadcast RateLimitRule `mapstructure:"broadcast"`
	Payment   RateLimitRule `mapstructure:"payment"`
}

type AdminConfig struct {
	TelegramIDs []int64 `mapstructure:"telegram_ids"`
}

type I18nConfig struct {
	DefaultLang string `mapstructure:"default_lang" validate:"omitempty,oneof=ru en"`
}

// GetDBConnectionString returns PostgreSQL DSN based on config values.
func (c *Config) GetDBConnectionString() string {
	port := c.Database.Port
	if port == "" {
		port = "5432"
	}
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		sslMode,
	)
}

// IsAdmin reports whether telegramID is configured as a club administrator.
func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.Admin.TelegramIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// applyDefaults fills values that the YAML files may omit.
func (c *Config) applyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
	if c.Bot.Mode == "" {
		c.Bot.Mode = "polling"
	}
	if c.Bot.Timeout == 0 {
		c.Bot.Timeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 15 * time.Second
	}
	if c.API.BreakerThreshold == 0 {
		c.API.BreakerThreshold = 0.5
	}
	if c.API.BreakerCooldown == 0 {
		c.API.BreakerCooldown = 30 * time.Second
	}
	if c.Presence.StartupDelay == 0 {
		c.Presence.StartupDelay = time.Second
	}
	if c.Presence.PingInterval == 0 {
		c.Presence.PingInterval = 30 * time.Second
	}
	if c.Presence.ReconnectDelay == 0 {
		c.Presence.ReconnectDelay = 3 * time.Second
	}
	if len(c.Payments.Plans) == 0 {
		c.Payments.Plans = []string{"month", "quarter", "year"}
	}
	if c.Library.PageSize == 0 {
		c.Library.PageSize = 30
	}
	if c.Library.ActivityLimit == 0 {
		c.Library.ActivityLimit = 20
	}
	if c.Library.AdminActionLimit == 0 {
		c.Library.AdminActionLimit = 50
	}
	if c.Library.NotificationLimit == 0 {
		c.Library.NotificationLimit = 50
	}
	if c.Redis.SessionTTL == 0 {
		c.Redis.SessionTTL = 30 * 24 * time.Hour
	}
	if c.Redis.StateTTL == 0 {
		c.Redis.StateTTL = time.Hour
	}
	if c.Database.MigrationsDir == "" {
		c.Database.MigrationsDir = "migrations"
	}
	if c.Jobs.Concurrency == 0 {
		c.Jobs.Concurrency = 5
	}
	if c.Jobs.DigestSchedule == "" {
		c.Jobs.DigestSchedule = "*/15 * * * *"
	}
	if c.I18n.DefaultLang == "" {
		c.I18n.DefaultLang = "ru"
	}
}
