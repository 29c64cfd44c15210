package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// AllowedUsers restricts the bot to the listed Telegram user IDs; empty allows everyone.
	AllowedUsers []int64 `yaml:"allowed_users" envconfig:"TELEGRAM_ALLOWED_USERS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL         string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Path        string `yaml:"path" envconfig:"WEBHOOK_PATH"`
	Listen      string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port        int    `yaml:"port" envconfig:"PORT"`
	SecretToken string `yaml:"secret_token" envconfig:"WEBHOOK_SECRET"`
}

// BackendConfig identifies the application on the MTProto backend.
type BackendConfig struct {
	APIID   int           `yaml:"api_id" envconfig:"API_ID"`
	APIHash string        `yaml:"api_hash" envconfig:"API_HASH"`
	Timeout time.Duration `yaml:"timeout" envconfig:"BACKEND_TIMEOUT"`
}

// SessionConfig controls where session files live and how long a login attempt may idle.
type SessionConfig struct {
	Dir             string        `yaml:"dir" envconfig:"SESSION_DIR"`
	Suffix          string        `yaml:"suffix" envconfig:"SESSION_SUFFIX"`
	DeleteAfterSend Flag          `yaml:"delete_after_send" envconfig:"DELETE_AFTER_SEND"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ReapInterval    time.Duration `yaml:"reap_interval" envconfig:"REAP_INTERVAL"`
}

// RedisConfig enables cross-replica artifact claims when URL is set.
type RedisConfig struct {
	URL      string        `yaml:"url" envconfig:"REDIS_URL"`
	Password string        `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" envconfig:"REDIS_DB"`
	LockTTL  time.Duration `yaml:"lock_ttl" envconfig:"REDIS_LOCK_TTL"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// MTProtoDebug turns on the protocol client's own logger.
	MTProtoDebug bool `yaml:"mtproto_debug" envconfig:"LOG_MTPROTO_DEBUG"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting; only "message" is meaningful here.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the whole process configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Backend   BackendConfig   `yaml:"backend"`
	Session   SessionConfig   `yaml:"session"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

const (
	defaultListen       = "0.0.0.0"
	defaultPort         = 5000
	defaultWebhookPath  = "/"
	defaultSessionDir   = "sessions"
	defaultSuffix       = ".session"
	defaultIdleTimeout  = 10 * time.Minute
	defaultReapInterval = 30 * time.Second
	defaultBackendTO    = 30 * time.Second
	defaultLockTTL      = time.Hour
)

// Load reads configuration from an optional YAML file, an optional .env file and environment variables.
// An empty path skips the YAML step.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	var missing []string
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if cfg.Backend.APIID <= 0 {
		missing = append(missing, "API_ID")
	}
	if strings.TrimSpace(cfg.Backend.APIHash) == "" {
		missing = append(missing, "API_HASH")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeWebhook
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			missing = append(missing, "WEBHOOK_URL")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	cfg.Telegram.RunMode = rm

	if strings.TrimSpace(cfg.Webhook.Listen) == "" {
		cfg.Webhook.Listen = defaultListen
	}
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = defaultPort
	}
	if cfg.Webhook.Port < 0 || cfg.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port out of range: %d", cfg.Webhook.Port)
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = defaultWebhookPath
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		cfg.Webhook.Path = "/" + cfg.Webhook.Path
	}

	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = defaultBackendTO
	}

	if strings.TrimSpace(cfg.Session.Dir) == "" {
		cfg.Session.Dir = defaultSessionDir
	}
	if cfg.Session.Suffix == "" {
		cfg.Session.Suffix = defaultSuffix
	}
	if !strings.HasPrefix(cfg.Session.Suffix, ".") {
		cfg.Session.Suffix = "." + cfg.Session.Suffix
	}
	if cfg.Session.IdleTimeout <= 0 {
		cfg.Session.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Session.ReapInterval <= 0 {
		cfg.Session.ReapInterval = defaultReapInterval
	}

	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = defaultLockTTL
	}

	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if key != UpdateMessage {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	return nil
}
