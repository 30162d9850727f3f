package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultOutboxBatchSize   = 256
	DefaultOutboxIdleSleepMs = 200
	DefaultOutboxBackoffMs   = 2000

	DefaultHubMailboxCap          = 256
	DefaultHubMaxInflightMessages = 64
	DefaultHubMaxInflightResults  = 1024
	DefaultHubWorkerTimeoutMs     = 1000

	// DevJWTSigningKey is used when JWT_SIGNING_KEY is absent. Development
	// only.
	DevJWTSigningKey = "dev-signing-key-do-not-use-in-production"
)

type Config struct {
	Environment       string `mapstructure:"ENVIRONMENT"`
	DBSource          string `mapstructure:"DB_SOURCE"`
	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	KafkaBrokers      string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic        string `mapstructure:"KAFKA_TOPIC"`
	ConsumerGroup     string `mapstructure:"CONSUMER_GROUP"`
	HTTPServerAddress string `mapstructure:"HTTP_SERVER_ADDRESS"`
	HTTPCertPath      string `mapstructure:"HTTP_CERT_PATH"`
	HTTPKeyPath       string `mapstructure:"HTTP_KEY_PATH"`
	LogFilter         string `mapstructure:"LOG_FILTER"`

	// Backend selectors. auth and user recognize "real"; captcha also
	// recognizes "fake".
	AuthBackend    string `mapstructure:"AUTH_BACKEND"`
	CaptchaBackend string `mapstructure:"CAPTCHA_BACKEND"`
	UserBackend    string `mapstructure:"USER_BACKEND"`

	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`

	// Outbox notifier settings.
	OutboxBatchSize   int `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxIdleSleepMs int `mapstructure:"OUTBOX_IDLE_SLEEP_MS"`
	OutboxBackoffMs   int `mapstructure:"OUTBOX_BACKOFF_MS"`

	// Session hub settings.
	HubMailboxCap          int `mapstructure:"HUB_MAILBOX_CAP"`
	HubMaxInflightMessages int `mapstructure:"HUB_MAX_INFLIGHT_MESSAGES"`
	HubMaxInflightResults  int `mapstructure:"HUB_MAX_INFLIGHT_RESULTS"`
	HubWorkerTimeoutMs     int `mapstructure:"HUB_WORKER_TIMEOUT_MS"`
}

// ValidateBackends rejects unknown backend selectors. Empty selects the
// real backend.
func (c *Config) ValidateBackends() error {
	switch c.AuthBackend {
	case "", "real":
	default:
		return fmt.Errorf("unknown AUTH_BACKEND %q", c.AuthBackend)
	}
	switch c.UserBackend {
	case "", "real":
	default:
		return fmt.Errorf("unknown USER_BACKEND %q", c.UserBackend)
	}
	switch c.CaptchaBackend {
	case "", "real", "fake":
	default:
		return fmt.Errorf("unknown CAPTCHA_BACKEND %q", c.CaptchaBackend)
	}
	return nil
}

// GetKafkaBrokers splits the comma-separated broker list.
func (c *Config) GetKafkaBrokers() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

// GetJWTSigningKey returns the signing key, falling back to the
// development default with a warning.
func (c *Config) GetJWTSigningKey(logger *zap.Logger) []byte {
	if c.JWTSigningKey == "" {
		if logger != nil {
			logger.Warn("JWT_SIGNING_KEY not set, using development default")
		}
		return []byte(DevJWTSigningKey)
	}
	return []byte(c.JWTSigningKey)
}

// GetOutboxBatchSize returns the outbox claim batch size.
// If the configured value is invalid (non-positive), it returns the default value and logs a warning.
func (c *Config) GetOutboxBatchSize(logger *zap.Logger) int {
	if c.OutboxBatchSize <= 0 {
		if logger != nil {
			logger.Warn("invalid OUTBOX_BATCH_SIZE, using default",
				zap.Int("configured", c.OutboxBatchSize),
				zap.Int("default", DefaultOutboxBatchSize))
		}
		return DefaultOutboxBatchSize
	}
	return c.OutboxBatchSize
}

// GetOutboxIdleSleep returns the idle sleep as time.Duration.
// If the configured value is invalid (non-positive), it returns the default value and logs a warning.
func (c *Config) GetOutboxIdleSleep(logger *zap.Logger) time.Duration {
	if c.OutboxIdleSleepMs <= 0 {
		if logger != nil {
			logger.Warn("invalid OUTBOX_IDLE_SLEEP_MS, using default",
				zap.Int("configured", c.OutboxIdleSleepMs),
				zap.Int("default", DefaultOutboxIdleSleepMs))
		}
		return time.Duration(DefaultOutboxIdleSleepMs) * time.Millisecond
	}
	return time.Duration(c.OutboxIdleSleepMs) * time.Millisecond
}

// GetOutboxBackoff returns the reschedule backoff as time.Duration.
// If the configured value is invalid (non-positive), it returns the default value and logs a warning.
func (c *Config) GetOutboxBackoff(logger *zap.Logger) time.Duration {
	if c.OutboxBackoffMs <= 0 {
		if logger != nil {
			logger.Warn("invalid OUTBOX_BACKOFF_MS, using default",
				zap.Int("configured", c.OutboxBackoffMs),
				zap.Int("default", DefaultOutboxBackoffMs))
		}
		return time.Duration(DefaultOutboxBackoffMs) * time.Millisecond
	}
	return time.Duration(c.OutboxBackoffMs) * time.Millisecond
}

// GetHubMailboxCap returns the per-client mailbox capacity.
func (c *Config) GetHubMailboxCap(logger *zap.Logger) int {
	if c.HubMailboxCap <= 0 {
		if logger != nil {
			logger.Warn("invalid HUB_MAILBOX_CAP, using default",
				zap.Int("configured", c.HubMailboxCap),
				zap.Int("default", DefaultHubMailboxCap))
		}
		return DefaultHubMailboxCap
	}
	return c.HubMailboxCap
}

// GetHubMaxInflightMessages returns the per-client worker permit count.
func (c *Config) GetHubMaxInflightMessages(logger *zap.Logger) int {
	if c.HubMaxInflightMessages <= 0 {
		if logger != nil {
			logger.Warn("invalid HUB_MAX_INFLIGHT_MESSAGES, using default",
				zap.Int("configured", c.HubMaxInflightMessages),
				zap.Int("default", DefaultHubMaxInflightMessages))
		}
		return DefaultHubMaxInflightMessages
	}
	return c.HubMaxInflightMessages
}

// GetHubMaxInflightResults returns the per-client result permit count.
func (c *Config) GetHubMaxInflightResults(logger *zap.Logger) int {
	if c.HubMaxInflightResults <= 0 {
		if logger != nil {
			logger.Warn("invalid HUB_MAX_INFLIGHT_RESULTS, using default",
				zap.Int("configured", c.HubMaxInflightResults),
				zap.Int("default", DefaultHubMaxInflightResults))
		}
		return DefaultHubMaxInflightResults
	}
	return c.HubMaxInflightResults
}

// GetHubWorkerTimeout returns the per-command timeout as time.Duration.
func (c *Config) GetHubWorkerTimeout(logger *zap.Logger) time.Duration {
	if c.HubWorkerTimeoutMs <= 0 {
		if logger != nil {
			logger.Warn("invalid HUB_WORKER_TIMEOUT_MS, using default",
				zap.Int("configured", c.HubWorkerTimeoutMs),
				zap.Int("default", DefaultHubWorkerTimeoutMs))
		}
		return time.Duration(DefaultHubWorkerTimeoutMs) * time.Millisecond
	}
	return time.Duration(c.HubWorkerTimeoutMs) * time.Millisecond
}

func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("app")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
