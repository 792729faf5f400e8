// Package config provides configuration management for the sync services.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Logging   LoggingConfig
	Auth      AuthConfig
	OAuth     OAuthConfig
	Platforms PlatformsConfig
	Quota     QuotaConfig
	Token     TokenConfig
	HTTP      HTTPConfig
	Sync      SyncConfig
	Schedule  ScheduleConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig contains database connection configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type DatabaseConfig struct {
	Host           string
	Name           string
	User           string
	Password       string
	SSLMode        string
	Port           int
	MaxConnections int
	MinConnections int
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
}

// URL renders the connection settings as a postgres URL, the form
// golang-migrate expects.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// RedisConfig contains the Redis connection used by asynq and the account lock.
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

// RabbitMQConfig contains RabbitMQ connection and exchange configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RabbitMQConfig struct {
	Enabled    bool
	Host       string
	User       string
	Password   string
	Exchange   string
	RoutingKey string
	Port       int
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string
	File  string
}

// AuthConfig contains caller identity settings for the trigger surface.
type AuthConfig struct {
	ServiceKeys []string
	JWTSecret   string
}

// OAuthConfig contains client credentials used to refresh stored tokens.
type OAuthConfig struct {
	Google    GoogleOAuthConfig
	Instagram InstagramOAuthConfig
}

// GoogleOAuthConfig configures the Google token endpoint.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// InstagramOAuthConfig configures long-lived token refresh.
type InstagramOAuthConfig struct {
	RefreshURL string
}

// PlatformsConfig holds per-platform settings.
type PlatformsConfig struct {
	YouTube   PlatformConfig
	Instagram PlatformConfig
}

// PlatformConfig describes one upstream platform.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type PlatformConfig struct {
	Timezone          string
	DailyQuota        int
	NonExpiringTokens bool
	ReportURL         string
	ResourceURL       string
}

// QuotaConfig contains the warning and critical fractions of the daily budget.
type QuotaConfig struct {
	Warning  float64
	Critical float64
}

// TokenConfig contains token lifecycle settings.
type TokenConfig struct {
	RefreshSkew time.Duration
}

// HTTPConfig contains the upstream retry policy.
type HTTPConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
}

// SyncConfig contains orchestrator settings.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type SyncConfig struct {
	IncrementalLagDays int
	BackfillDays       int
	AccountDelay       time.Duration
	CallDelay          time.Duration
	IncludeRevenue     bool
	SnapshotVideoLimit int
}

// ScheduleConfig contains cron specs for the worker's periodic tasks.
type ScheduleConfig struct {
	Incremental string
	Snapshot    string
	Concurrency int
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Quota.Warning <= 0 || c.Quota.Warning >= c.Quota.Critical {
		return errors.New("quota.warning must be positive and below quota.critical")
	}
	if c.Quota.Critical > 1 {
		return errors.New("quota.critical must not exceed 1")
	}
	if c.HTTP.MaxAttempts < 1 {
		return errors.New("http.maxattempts must be at least 1")
	}
	if c.Sync.IncrementalLagDays < 0 {
		return errors.New("sync.incrementallagdays must not be negative")
	}
	for name, p := range map[string]PlatformConfig{"youtube": c.Platforms.YouTube, "instagram": c.Platforms.Instagram} {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("platforms.%s.timezone: %w", name, err)
		}
		if p.DailyQuota <= 0 {
			return fmt.Errorf("platforms.%s.dailyquota must be positive", name)
		}
	}
	return nil
}

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readtimeout", 15*time.Second)
	viper.SetDefault("server.writetimeout", 5*time.Minute)
	viper.SetDefault("server.shutdowntimeout", 30*time.Second)

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "analytics")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxconnections", 10)
	viper.SetDefault("database.minconnections", 2)
	viper.SetDefault("database.maxidletime", 10*time.Minute)
	viper.SetDefault("database.maxlifetime", 1*time.Hour)

	// Redis
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.lockttl", 30*time.Minute)

	// RabbitMQ
	viper.SetDefault("rabbitmq.enabled", false)
	viper.SetDefault("rabbitmq.host", "localhost")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.exchange", "analytics.sync")
	viper.SetDefault("rabbitmq.routingkey", "sync")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.file", "")

	// OAuth
	viper.SetDefault("oauth.google.tokenurl", "https://oauth2.googleapis.com/token")
	viper.SetDefault("oauth.instagram.refreshurl", "https://graph.instagram.com/refresh_access_token")

	// Platforms
	viper.SetDefault("platforms.youtube.timezone", "America/Los_Angeles")
	viper.SetDefault("platforms.youtube.dailyquota", 10000)
	viper.SetDefault("platforms.youtube.nonexpiringtokens", false)
	viper.SetDefault("platforms.youtube.reporturl", "https://youtubeanalytics.googleapis.com/v2/reports")
	viper.SetDefault("platforms.youtube.resourceurl", "https://youtube.googleapis.com/youtube/v3/")
	viper.SetDefault("platforms.instagram.timezone", "America/Los_Angeles")
	viper.SetDefault("platforms.instagram.dailyquota", 4800)
	viper.SetDefault("platforms.instagram.nonexpiringtokens", false)
	viper.SetDefault("platforms.instagram.reporturl", "https://graph.facebook.com/v19.0")
	viper.SetDefault("platforms.instagram.resourceurl", "https://graph.facebook.com/v19.0")

	// Quota
	viper.SetDefault("quota.warning", 0.8)
	viper.SetDefault("quota.critical", 0.9)

	// Token
	viper.SetDefault("token.refreshskew", 5*time.Minute)

	// HTTP
	viper.SetDefault("http.timeout", 30*time.Second)
	viper.SetDefault("http.maxattempts", 3)
	viper.SetDefault("http.basedelay", 1*time.Second)

	// Sync
	viper.SetDefault("sync.incrementallagdays", 1)
	viper.SetDefault("sync.backfilldays", 365)
	viper.SetDefault("sync.accountdelay", 250*time.Millisecond)
	viper.SetDefault("sync.calldelay", 100*time.Millisecond)
	viper.SetDefault("sync.includerevenue", false)
	viper.SetDefault("sync.snapshotvideolimit", 50)

	// Schedule
	viper.SetDefault("schedule.incremental", "0 11 * * *")
	viper.SetDefault("schedule.snapshot", "*/15 * * * *")
	viper.SetDefault("schedule.concurrency", 4)
}
