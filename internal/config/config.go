// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxWebhookBytes int64         `yaml:"max_webhook_bytes"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type PaymentConfig struct {
	Provider      string        `yaml:"provider"` // http|noop
	BaseURL       string        `yaml:"base_url"`
	KeyID         string        `yaml:"key_id"`
	KeySecret     string        `yaml:"key_secret"`     // signs orderId|paymentId
	WebhookSecret string        `yaml:"webhook_secret"` // signs raw webhook bodies
	SignatureHdr  string        `yaml:"signature_header"`
	Currency      string        `yaml:"currency"`
	Timeout       time.Duration `yaml:"timeout"`
	VerifyCapture bool          `yaml:"verify_capture"`
}

type StorageConfig struct {
	Provider        string        `yaml:"provider"` // s3|noop
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKey       string        `yaml:"access_key"`
	SecretKey       string        `yaml:"secret_key"`
	OneTimeMaxTTL   time.Duration `yaml:"one_time_max_ttl"`
	SubscriptionTTL time.Duration `yaml:"subscription_max_ttl"`
	Timeout         time.Duration `yaml:"timeout"` // bounds one signing call
}

type AccessConfig struct {
	GrantWindow time.Duration `yaml:"grant_window"`
}

type RateLimitConfig struct {
	Backend     string        `yaml:"backend"` // memory|redis
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

type SchedulerConfig struct {
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	SweepBatch         int           `yaml:"sweep_batch"`
	ReconcileInterval  time.Duration `yaml:"reconcile_interval"`
	ReconcileStaleness time.Duration `yaml:"reconcile_stale_after"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Payment   PaymentConfig   `yaml:"payment"`
	Storage   StorageConfig   `yaml:"storage"`
	Access    AccessConfig    `yaml:"access"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(configPath string, dev bool) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes YAML, applies environment overrides and defaults, then validates.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secrets are usually injected by the environment (or .env in dev)
func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Redis.Password, "REDIS_PASSWORD")
	override(&cfg.Auth.JWTSecret, "AUTH_JWT_SECRET")
	override(&cfg.Payment.KeyID, "PAYMENT_KEY_ID")
	override(&cfg.Payment.KeySecret, "PAYMENT_KEY_SECRET")
	override(&cfg.Payment.WebhookSecret, "PAYMENT_WEBHOOK_SECRET")
	override(&cfg.Storage.AccessKey, "STORAGE_ACCESS_KEY")
	override(&cfg.Storage.SecretKey, "STORAGE_SECRET_KEY")
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HTTP.MaxWebhookBytes <= 0 {
		cfg.HTTP.MaxWebhookBytes = 1 << 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Payment.Provider == "" {
		cfg.Payment.Provider = "http"
	}
	if cfg.Payment.SignatureHdr == "" {
		cfg.Payment.SignatureHdr = "X-Payment-Signature"
	}
	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "INR"
	}
	if cfg.Payment.Timeout <= 0 {
		cfg.Payment.Timeout = 10 * time.Second
	}

	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = "s3"
	}
	if cfg.Storage.OneTimeMaxTTL <= 0 {
		cfg.Storage.OneTimeMaxTTL = 300 * time.Second
	}
	if cfg.Storage.SubscriptionTTL <= 0 {
		cfg.Storage.SubscriptionTTL = time.Hour
	}
	if cfg.Storage.Timeout <= 0 {
		cfg.Storage.Timeout = 5 * time.Second
	}

	if cfg.Access.GrantWindow <= 0 {
		cfg.Access.GrantWindow = 300 * time.Second
	}

	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		cfg.RateLimit.MaxRequests = 10
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}

	if cfg.Scheduler.SweepInterval <= 0 {
		cfg.Scheduler.SweepInterval = time.Minute
	}
	if cfg.Scheduler.SweepBatch <= 0 {
		cfg.Scheduler.SweepBatch = 200
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = 5 * time.Minute
	}
	if cfg.Scheduler.ReconcileStaleness <= 0 {
		cfg.Scheduler.ReconcileStaleness = 2 * cfg.Access.GrantWindow
	}
}

func (cfg *Config) validate() error {
	// Minimal validation
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if cfg.Payment.KeySecret == "" {
		return errors.New("payment.key_secret is required")
	}
	if cfg.Payment.WebhookSecret == "" {
		return errors.New("payment.webhook_secret is required")
	}
	if cfg.Payment.WebhookSecret == cfg.Payment.KeySecret {
		return errors.New("payment.webhook_secret must differ from payment.key_secret")
	}
	switch cfg.RateLimit.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is required for rate_limit.backend=redis")
		}
	default:
		return fmt.Errorf("rate_limit.backend %q not supported", cfg.RateLimit.Backend)
	}
	if cfg.Payment.Provider == "http" && cfg.Payment.BaseURL == "" && !cfg.Runtime.Dev {
		return errors.New("payment.base_url is required")
	}
	if cfg.Storage.Provider == "s3" && cfg.Storage.Bucket == "" && !cfg.Runtime.Dev {
		return errors.New("storage.bucket is required")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
