package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the server configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Meta     MetaConfig     `mapstructure:"meta"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Health   HealthConfig   `mapstructure:"health"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	HTTPPort       int           `mapstructure:"http_port"`
	HTTPSPort      int           `mapstructure:"https_port"` // used when tls is enabled
	PublicURL      string        `mapstructure:"public_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimit      float64       `mapstructure:"rate_limit"` // webhook requests per second per IP
	RateBurst      int           `mapstructure:"rate_burst"`
}

// TLSConfig enables HTTPS with certificate files or autocert
type TLSConfig struct {
	AutoCert bool   `mapstructure:"auto_cert"`
	Domain   string `mapstructure:"domain"`
	Email    string `mapstructure:"email"`
	CertDir  string `mapstructure:"cert_dir"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// AuthConfig holds the secret used to verify tenant bearer tokens.
// Tokens are issued by the account service, never here.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// MetaConfig holds lead-ads platform settings
type MetaConfig struct {
	AppSecret              string        `mapstructure:"app_secret"`
	VerifyToken            string        `mapstructure:"verify_token"`
	VerifyPayloadSignature bool          `mapstructure:"verify_payload_signature"`
	GraphURL               string        `mapstructure:"graph_url"`
	GraphVersion           string        `mapstructure:"graph_version"`
	GraphTimeout           time.Duration `mapstructure:"graph_timeout"`
	DeletionStatusURL      string        `mapstructure:"deletion_status_url"`
}

// QueueConfig holds async dispatch settings
type QueueConfig struct {
	DSN               string        `mapstructure:"dsn"` // memory://, postgres://, sqlite:// or http(s)://host/internal/queue/jobs
	Token             string        `mapstructure:"token"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Workers           int           `mapstructure:"workers"`
	Capacity          int           `mapstructure:"capacity"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`      // postgres:// and sqlite:// only
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"` // postgres:// and sqlite:// only
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	StalePendingAfter time.Duration `mapstructure:"stale_pending_after"`
	SweepBatch        int           `mapstructure:"sweep_batch"`
}

// PipelineConfig holds worker-side processing settings
type PipelineConfig struct {
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	StuckAfter        time.Duration `mapstructure:"stuck_after"` // must exceed processing_timeout
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	ReapBatch         int           `mapstructure:"reap_batch"`
}

// RetryConfig holds manual retry settings
type RetryConfig struct {
	BatchLimit int `mapstructure:"batch_limit"`
}

// HealthConfig holds the ingestion health thresholds
type HealthConfig struct {
	Window            time.Duration `mapstructure:"window"`
	DegradedThreshold float64       `mapstructure:"degraded_threshold"` // failure rate above this is degraded
	DownThreshold     float64       `mapstructure:"down_threshold"`     // failure rate above this is down
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	File      string `mapstructure:"file"`
	HTTPLevel string `mapstructure:"http_level"` // silent, error, warn, info
}

// Load loads configuration from file. Every key may be overridden by an
// environment variable, e.g. LEADFLOW_META_APP_SECRET.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Meta.VerifyToken == "" {
		return fmt.Errorf("meta.verify_token is required")
	}
	if c.Meta.AppSecret == "" {
		return fmt.Errorf("meta.app_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative")
	}
	if c.Pipeline.StuckAfter <= c.Pipeline.ProcessingTimeout {
		return fmt.Errorf("pipeline.stuck_after must be greater than pipeline.processing_timeout")
	}
	if c.Retry.BatchLimit <= 0 {
		return fmt.Errorf("retry.batch_limit must be positive")
	}
	if c.TLS.AutoCert && c.TLS.Domain == "" {
		return fmt.Errorf("tls.domain is required when tls.auto_cert is enabled")
	}
	if c.Health.DegradedThreshold > c.Health.DownThreshold {
		return fmt.Errorf("health.degraded_threshold must not exceed health.down_threshold")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.https_port", 8443)
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.webhook_timeout", "15s")
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)

	// TLS defaults
	v.SetDefault("tls.auto_cert", false)
	v.SetDefault("tls.cert_dir", "certs")

	// Database defaults (SQLite for easier local development)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.database", "leadflow.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "leadflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.log_level", "warn")

	// Secrets have empty defaults so LEADFLOW_* env vars are seen by Unmarshal
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("meta.app_secret", "")
	v.SetDefault("meta.verify_token", "")
	v.SetDefault("queue.token", "")

	// Meta defaults
	v.SetDefault("meta.verify_payload_signature", false)
	v.SetDefault("meta.graph_url", "https://graph.facebook.com")
	v.SetDefault("meta.graph_version", "v19.0")
	v.SetDefault("meta.graph_timeout", "10s")

	// Queue defaults
	v.SetDefault("queue.dsn", "memory://")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.initial_backoff", "1s")
	v.SetDefault("queue.max_backoff", "30s")
	v.SetDefault("queue.poll_interval", "500ms")
	v.SetDefault("queue.visibility_timeout", "15m")
	v.SetDefault("queue.sweep_interval", "1m")
	v.SetDefault("queue.stale_pending_after", "5m")
	v.SetDefault("queue.sweep_batch", 100)

	// Pipeline defaults
	v.SetDefault("pipeline.processing_timeout", "10m")
	v.SetDefault("pipeline.stuck_after", "15m")
	v.SetDefault("pipeline.reap_interval", "2m")
	v.SetDefault("pipeline.reap_batch", 100)

	// Retry defaults
	v.SetDefault("retry.batch_limit", 50)

	// Health defaults
	v.SetDefault("health.window", "24h")
	v.SetDefault("health.degraded_threshold", 0.2)
	v.SetDefault("health.down_threshold", 0.5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.http_level", "warn")
}
