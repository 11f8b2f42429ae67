// Package config loads and validates enricher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (ENRICHER_QUEUE_BACKEND).
const EnvPrefix = "ENRICHER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Worker       WorkerConfig       `mapstructure:"worker"`
	Queue        QueueConfig        `mapstructure:"queue"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Headless     HeadlessConfig     `mapstructure:"headless"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Verification VerificationConfig `mapstructure:"verification"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// WorkerConfig governs the worker loop.
type WorkerConfig struct {
	ID                   string `mapstructure:"id"`
	Instances            int    `mapstructure:"instances"`
	PollIntervalSeconds  int    `mapstructure:"poll_interval_seconds"`
	GracePeriodSeconds   int    `mapstructure:"grace_period_seconds"`
	StatsIntervalSeconds int    `mapstructure:"stats_interval_seconds"`
	StatsEvery           int    `mapstructure:"stats_every"`
	JobTimeoutSeconds    int    `mapstructure:"job_timeout_seconds"`
}

// QueueConfig selects and tunes the job queue backend.
type QueueConfig struct {
	Backend             string `mapstructure:"backend"`
	Table               string `mapstructure:"table"`
	EntityTable         string `mapstructure:"entity_table"`
	AssociateTable      string `mapstructure:"associate_table"`
	DefaultPriority     int    `mapstructure:"default_priority"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	LeaseTimeoutSeconds int    `mapstructure:"lease_timeout_seconds"`
	ReapIntervalSeconds int    `mapstructure:"reap_interval_seconds"`
	SweepLimit          int    `mapstructure:"sweep_limit"`
}

// HTTPConfig configures candidate fetches.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	// PromotionThresh is the body length below which a page is treated as a shell.
	PromotionThresh int `mapstructure:"promotion_threshold"`
}

// RateLimitConfig throttles fetches per site.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
	MaxHosts     int     `mapstructure:"max_hosts"`
}

// VerificationConfig tunes candidate generation and scoring.
type VerificationConfig struct {
	Threshold         int    `mapstructure:"threshold"`
	GenericTLD        string `mapstructure:"generic_tld"`
	MaxCandidates     int    `mapstructure:"max_candidates"`
	FollowContactPage bool   `mapstructure:"follow_contact_page"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig selects where evidence pages are archived.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for enrichment notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from .env files, an optional YAML file and the
// environment, in increasing order of precedence.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := loadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv never overrides variables already present in the environment.
func loadDotEnv(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Every key needs a default so AutomaticEnv can bind it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.id", "")
	v.SetDefault("worker.instances", 1)
	v.SetDefault("worker.poll_interval_seconds", 2)
	v.SetDefault("worker.grace_period_seconds", 30)
	v.SetDefault("worker.stats_interval_seconds", 60)
	v.SetDefault("worker.stats_every", 10)
	v.SetDefault("worker.job_timeout_seconds", 120)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.table", "enrichment_queue")
	v.SetDefault("queue.entity_table", "entities")
	v.SetDefault("queue.associate_table", "associates")
	v.SetDefault("queue.default_priority", 0)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.lease_timeout_seconds", 600)
	v.SetDefault("queue.reap_interval_seconds", 60)
	v.SetDefault("queue.sweep_limit", 100)

	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.user_agent", "entity-enricher/0.1")
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.max_body_bytes", 2<<20)
	v.SetDefault("http.respect_robots", true)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.promotion_threshold", 2048)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 2)
	v.SetDefault("rate_limit.max_hosts", 10000)

	v.SetDefault("verification.threshold", 50)
	v.SetDefault("verification.generic_tld", "com")
	v.SetDefault("verification.max_candidates", 0)
	v.SetDefault("verification.follow_contact_page", true)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "evidence")
	v.SetDefault("storage.local.base_dir", "./data/evidence")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("telemetry.service_name", "entity-enricher")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Worker.Instances <= 0 {
		return fmt.Errorf("worker.instances must be > 0")
	}
	if c.Worker.PollIntervalSeconds <= 0 {
		return fmt.Errorf("worker.poll_interval_seconds must be > 0")
	}
	if c.Worker.GracePeriodSeconds <= 0 {
		return fmt.Errorf("worker.grace_period_seconds must be > 0")
	}
	if c.Worker.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.job_timeout_seconds must be > 0")
	}
	if c.Worker.StatsIntervalSeconds < 0 || c.Worker.StatsEvery < 0 {
		return fmt.Errorf("worker stats settings must be >= 0")
	}
	switch c.Queue.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when queue.backend is postgres")
		}
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be > 0")
	}
	if c.Queue.LeaseTimeoutSeconds <= 0 || c.Queue.ReapIntervalSeconds <= 0 {
		return fmt.Errorf("queue lease and reap intervals must be > 0")
	}
	if c.LeaseTimeout() <= c.JobTimeout()+c.GracePeriod() {
		return fmt.Errorf("queue.lease_timeout_seconds must exceed worker.job_timeout_seconds + worker.grace_period_seconds")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRedirects < 0 || c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http limits must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS <= 0 {
		return fmt.Errorf("rate_limit.default_rps must be > 0 when rate limiting is enabled")
	}
	if c.Verification.Threshold < 1 || c.Verification.Threshold > 100 {
		return fmt.Errorf("verification.threshold must be within [1,100]")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}

// PollInterval is the sleep between empty claims.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalSeconds) * time.Second
}

// GracePeriod bounds how long shutdown waits for an in-flight job.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.Worker.GracePeriodSeconds) * time.Second
}

// JobTimeout bounds processing of a single job.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutSeconds) * time.Second
}

// StatsInterval is the period of the stats summary log; zero disables it.
func (c Config) StatsInterval() time.Duration {
	return time.Duration(c.Worker.StatsIntervalSeconds) * time.Second
}

// LeaseTimeout is the age after which a processing job is considered orphaned.
func (c Config) LeaseTimeout() time.Duration {
	return time.Duration(c.Queue.LeaseTimeoutSeconds) * time.Second
}

// ReapInterval is the period of the background lease reaper.
func (c Config) ReapInterval() time.Duration {
	return time.Duration(c.Queue.ReapIntervalSeconds) * time.Second
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
