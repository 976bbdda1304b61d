/**
 * @description
 * Configuration loader for the sync backend.
 * Reads environment variables (optionally from .env), applies defaults and
 * validates the timing and sizing knobs the sync pipeline depends on.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 * - github.com/caarlos0/env/v11: For struct-tag based env parsing
 *
 * @notes
 * - Fails fast if DATABASE_URL is missing outside of tests.
 * - Every component receives its slice of Config at construction; there is
 *   no package-level mutable state.
 */

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig
	DB          DBConfig
	Redis       RedisConfig
	Marketplace MarketplaceConfig
	Sync        SyncConfig
	Quota       QuotaConfig
	Feed        FeedConfig
	Trend       TrendConfig
	Worker      WorkerConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port          string `env:"PORT" envDefault:"8080"`
	Env           string `env:"GO_ENV" envDefault:"development"` // "development", "staging", "production" or "test"
	SyncJobSecret string `env:"JOB_SYNC_SECRET"`
}

// DBConfig holds PostgreSQL settings
type DBConfig struct {
	URL         string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	URL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
}

// MarketplaceConfig holds the remote platform endpoints and app credentials
type MarketplaceConfig struct {
	APIBaseURL     string        `env:"MARKETPLACE_API_URL" envDefault:"https://api.marketplace.example.com"`
	TokenURL       string        `env:"MARKETPLACE_TOKEN_URL" envDefault:"https://api.marketplace.example.com/identity/v1/oauth2/token"`
	ClientID       string        `env:"MARKETPLACE_CLIENT_ID"`
	ClientSecret   string        `env:"MARKETPLACE_CLIENT_SECRET"`
	MockMode       bool          `env:"MARKETPLACE_MOCK_MODE" envDefault:"false"`
	MockItemCount  int           `env:"MARKETPLACE_MOCK_ITEMS" envDefault:"250"`
	RequestTimeout time.Duration `env:"MARKETPLACE_TIMEOUT" envDefault:"30s"`
}

// SyncConfig controls the catalog sync loop
type SyncConfig struct {
	PageSize               int           `env:"SYNC_PAGE_SIZE" envDefault:"100"`
	BatchSize              int           `env:"SYNC_BATCH_SIZE" envDefault:"100"`
	Workers                int           `env:"SYNC_WORKERS" envDefault:"4"`
	SoftTimeout            time.Duration `env:"SYNC_SOFT_TIMEOUT" envDefault:"3h"`
	HardTimeout            time.Duration `env:"SYNC_HARD_TIMEOUT" envDefault:"3h10m"`
	CommitWindow           time.Duration `env:"SYNC_COMMIT_WINDOW" envDefault:"30s"`
	RetryAttempts          int           `env:"SYNC_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBackoff           time.Duration `env:"SYNC_RETRY_BACKOFF" envDefault:"2s"`
	MaxErrors              int           `env:"SYNC_MAX_ERRORS" envDefault:"10"`
	CredentialSafetyMargin time.Duration `env:"CREDENTIAL_SAFETY_MARGIN" envDefault:"5m"`
	LockTTL                time.Duration `env:"SYNC_LOCK_TTL" envDefault:"4h"`
}

// QuotaConfig controls the shared daily call budget
type QuotaConfig struct {
	DailyCap     int           `env:"QUOTA_DAILY_CAP" envDefault:"5000"`
	Scope        string        `env:"QUOTA_SCOPE" envDefault:"marketplace"`
	WarnRatio    float64       `env:"QUOTA_WARN_RATIO" envDefault:"0.9"`
	MaxWait      time.Duration `env:"QUOTA_MAX_WAIT" envDefault:"15m"`
	PollInterval time.Duration `env:"QUOTA_POLL_INTERVAL" envDefault:"30s"`
}

// FeedConfig controls the bulk export path
type FeedConfig struct {
	ReportType    string        `env:"FEED_REPORT_TYPE" envDefault:"LMS_ACTIVE_INVENTORY_REPORT"`
	PollInterval  time.Duration `env:"FEED_POLL_INTERVAL" envDefault:"10s"`
	MaxWait       time.Duration `env:"FEED_MAX_WAIT" envDefault:"5m"`
	RetryAttempts int           `env:"FEED_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBackoff  time.Duration `env:"FEED_RETRY_BACKOFF" envDefault:"10m"`
	RetryMaxDelay time.Duration `env:"FEED_RETRY_MAX_DELAY" envDefault:"30m"`
}

// TrendConfig controls scoring
type TrendConfig struct {
	TopN int `env:"TREND_TOP_N" envDefault:"10"`
}

// WorkerConfig controls the daily scheduler
type WorkerConfig struct {
	ScheduleTimes []string `env:"WORKER_SCHEDULE_TIMES" envDefault:"02:00" envSeparator:","`
	RunOnStartup  bool     `env:"WORKER_RUN_ON_STARTUP" envDefault:"false"`
	// Credentials expiring within this window are refreshed by the hourly pass.
	TokenRefreshHorizon time.Duration `env:"WORKER_TOKEN_REFRESH_HORIZON" envDefault:"2h"`
}

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// Attempt to load .env, but don't crash if it fails (prod injects env vars directly)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Marketplace.ClientID = sanitizeCredential(cfg.Marketplace.ClientID)
	cfg.Marketplace.ClientSecret = sanitizeCredential(cfg.Marketplace.ClientSecret)
	cfg.Server.SyncJobSecret = sanitizeCredential(cfg.Server.SyncJobSecret)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks for required variables and coherent limits
func validate(cfg *Config) error {
	if cfg.DB.URL == "" && cfg.Server.Env != "test" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Sync.PageSize <= 0 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be positive, got %d", cfg.Sync.PageSize)
	}
	if cfg.Sync.BatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Sync.Workers <= 0 {
		return fmt.Errorf("SYNC_WORKERS must be positive, got %d", cfg.Sync.Workers)
	}
	if cfg.Sync.RetryAttempts <= 0 {
		return fmt.Errorf("SYNC_RETRY_ATTEMPTS must be positive, got %d", cfg.Sync.RetryAttempts)
	}
	if gap := cfg.Sync.HardTimeout - cfg.Sync.SoftTimeout; gap < cfg.Sync.CommitWindow {
		return fmt.Errorf("SYNC_HARD_TIMEOUT must exceed SYNC_SOFT_TIMEOUT by at least %s, got %s", cfg.Sync.CommitWindow, gap)
	}
	if cfg.Quota.DailyCap <= 0 {
		return fmt.Errorf("QUOTA_DAILY_CAP must be positive, got %d", cfg.Quota.DailyCap)
	}
	if cfg.Quota.WarnRatio <= 0 || cfg.Quota.WarnRatio > 1 {
		return fmt.Errorf("QUOTA_WARN_RATIO must be in (0, 1], got %v", cfg.Quota.WarnRatio)
	}
	if cfg.Feed.PollInterval <= 0 || cfg.Feed.MaxWait < cfg.Feed.PollInterval {
		return fmt.Errorf("FEED_MAX_WAIT (%s) must be at least FEED_POLL_INTERVAL (%s)", cfg.Feed.MaxWait, cfg.Feed.PollInterval)
	}
	if cfg.Trend.TopN < 0 {
		return fmt.Errorf("TREND_TOP_N must not be negative")
	}
	if !cfg.Marketplace.MockMode && cfg.Server.Env == "production" && cfg.Marketplace.ClientID == "" {
		return fmt.Errorf("MARKETPLACE_CLIENT_ID is required in production unless MARKETPLACE_MOCK_MODE is set")
	}
	return nil
}

func sanitizeCredential(value string) string {
	trimmed := strings.TrimSpace(value)
	return strings.Trim(trimmed, "\"")
}
