package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/Yoseph-M/Soultalk-sub000/pkg/config"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/credstore"
)

// Config holds all configuration for sessiond.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	// HTTP server
	HTTPPort           int      `env:"SESSIOND_HTTP_PORT" envDefault:"8085"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	// Backend
	APIBaseURL          string        `env:"API_BASE_URL" envDefault:"http://localhost:8000"`
	HTTPClientTimeout   time.Duration `env:"HTTP_CLIENT_TIMEOUT" envDefault:"30s"`
	HTTPClientRetries   int           `env:"HTTP_CLIENT_MAX_RETRIES" envDefault:"2"`
	CBFailureRatio      float64       `env:"CB_FAILURE_RATIO" envDefault:"0.6"`
	CBTimeout           time.Duration `env:"CB_TIMEOUT" envDefault:"30s"`
	SingleFlightRefresh bool          `env:"SINGLE_FLIGHT_REFRESH" envDefault:"true"`

	// Credential storage
	CredstoreDriver    string `env:"CREDSTORE_DRIVER" envDefault:"file"`
	CredstorePath      string `env:"CREDSTORE_PATH" envDefault:".soultalk/credentials.json"`
	CredstoreDSN       string `env:"CREDSTORE_DSN"`
	CredstoreNamespace string `env:"CREDSTORE_NAMESPACE" envDefault:"soultalk:session:"`

	// SlowQueryThresholdMs logs credential queries slower than this; 0 disables.
	SlowQueryThresholdMs int `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"0"`

	// Redis (credstore redis driver)
	RedisURL  string `env:"REDIS_URL"`
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Login rate limiting
	LoginRateLimitRPS   float64 `env:"LOGIN_RATE_LIMIT_RPS" envDefault:"1"`
	LoginRateLimitBurst int     `env:"LOGIN_RATE_LIMIT_BURST" envDefault:"5"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	// VerificationTopic carries backend verification changes; empty disables
	// the consumer. Each daemon needs its own consumer group to see every
	// event.
	VerificationTopic   string        `env:"KAFKA_VERIFICATION_TOPIC" envDefault:"soultalk.accounts.verification_changed"`
	KafkaConsumerGroup  string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"sessiond"`
	KafkaDedupWindow    time.Duration `env:"KAFKA_DEDUP_WINDOW" envDefault:"1h"`
	KafkaDLQEnabled     bool          `env:"KAFKA_DLQ_ENABLED" envDefault:"true"`

	// Tracing
	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Operations endpoints
	MetricsAllowedCIDRs []string `env:"METRICS_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`
	PprofEnabled        bool     `env:"PPROF_ENABLED" envDefault:"false"`
}

// Load reads configuration from the environment, after any .env file in
// the working directory.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg, ".env"); err != nil {
		return nil, fmt.Errorf("load sessiond config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the daemon runs in the development
// environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL, got %q", c.APIBaseURL)
	}
	if !c.IsDevelopment() && u.Scheme != "https" {
		return fmt.Errorf("API_BASE_URL must use https in %s environment", c.Environment)
	}

	switch c.CredstoreDriver {
	case credstore.DriverMemory, credstore.DriverRedis:
	case credstore.DriverFile:
		if c.CredstorePath == "" {
			return fmt.Errorf("CREDSTORE_PATH is required for the file driver")
		}
	case credstore.DriverSQLite, credstore.DriverPostgres:
		if c.CredstoreDSN == "" {
			return fmt.Errorf("CREDSTORE_DSN is required for the %s driver", c.CredstoreDriver)
		}
	default:
		return fmt.Errorf("unknown CREDSTORE_DRIVER %q", c.CredstoreDriver)
	}

	if c.HTTPClientTimeout <= 0 {
		return fmt.Errorf("HTTP_CLIENT_TIMEOUT must be positive")
	}
	if c.HTTPClientRetries < 0 {
		return fmt.Errorf("HTTP_CLIENT_MAX_RETRIES must not be negative")
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0, 1], got %v", c.CBFailureRatio)
	}
	if c.LoginRateLimitRPS <= 0 || c.LoginRateLimitBurst < 1 {
		return fmt.Errorf("login rate limit must be positive")
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be in [0, 1], got %v", c.OTelSampleRate)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.KafkaEnabled && c.VerificationTopic != "" && c.KafkaConsumerGroup == "" {
		return fmt.Errorf("KAFKA_CONSUMER_GROUP is required to consume %s", c.VerificationTopic)
	}

	for _, cidr := range c.MetricsAllowedCIDRs {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			return fmt.Errorf("invalid METRICS_ALLOWED_CIDRS entry %q: %w", cidr, err)
		}
	}
	return nil
}
