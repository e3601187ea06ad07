package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Environment:         "development",
		HTTPPort:            8085,
		APIBaseURL:          "http://localhost:8000",
		HTTPClientTimeout:   30 * time.Second,
		HTTPClientRetries:   2,
		CBFailureRatio:      0.6,
		CredstoreDriver:     "file",
		CredstorePath:       ".soultalk/credentials.json",
		LoginRateLimitRPS:   1,
		LoginRateLimitBurst: 5,
		OTelSampleRate:      1,
		MetricsAllowedCIDRs: []string{"127.0.0.0/8", "::1/128"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8085, cfg.HTTPPort)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "http://localhost:8000", cfg.APIBaseURL)
	assert.Equal(t, "file", cfg.CredstoreDriver)
	assert.Equal(t, ".soultalk/credentials.json", cfg.CredstorePath)
	assert.Equal(t, "soultalk:session:", cfg.CredstoreNamespace)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientTimeout)
	assert.Equal(t, 2, cfg.HTTPClientRetries)
	assert.True(t, cfg.SingleFlightRefresh)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, "soultalk.accounts.verification_changed", cfg.VerificationTopic)
	assert.Equal(t, "sessiond", cfg.KafkaConsumerGroup)
	assert.Equal(t, time.Hour, cfg.KafkaDedupWindow)
	assert.True(t, cfg.KafkaDLQEnabled)
	assert.False(t, cfg.OTelEnabled)
	assert.False(t, cfg.PprofEnabled)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, []string{"127.0.0.0/8", "::1/128"}, cfg.MetricsAllowedCIDRs)
	assert.InDelta(t, 1.0, cfg.LoginRateLimitRPS, 0.0001)
	assert.Equal(t, 5, cfg.LoginRateLimitBurst)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SESSIOND_HTTP_PORT", "9090")
	t.Setenv("CREDSTORE_DRIVER", "sqlite")
	t.Setenv("CREDSTORE_DSN", "/var/lib/sessiond/creds.db")
	t.Setenv("SINGLE_FLIGHT_REFRESH", "false")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "sqlite", cfg.CredstoreDriver)
	assert.False(t, cfg.SingleFlightRefresh)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_InvalidHTTPPort(t *testing.T) {
	t.Setenv("SESSIOND_HTTP_PORT", "0")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"relative base url", func(c *Config) { c.APIBaseURL = "/api" }, "absolute http(s) URL"},
		{"bad scheme", func(c *Config) { c.APIBaseURL = "ftp://example.com" }, "absolute http(s) URL"},
		{"http outside development", func(c *Config) {
			c.Environment = "production"
		}, "must use https in production"},
		{"https in production", func(c *Config) {
			c.Environment = "production"
			c.APIBaseURL = "https://api.soultalk.app"
		}, ""},
		{"unknown driver", func(c *Config) { c.CredstoreDriver = "etcd" }, "unknown CREDSTORE_DRIVER"},
		{"file without path", func(c *Config) { c.CredstorePath = "" }, "CREDSTORE_PATH is required"},
		{"sqlite without dsn", func(c *Config) { c.CredstoreDriver = "sqlite" }, "CREDSTORE_DSN is required for the sqlite driver"},
		{"postgres without dsn", func(c *Config) { c.CredstoreDriver = "postgres" }, "CREDSTORE_DSN is required for the postgres driver"},
		{"memory needs nothing", func(c *Config) {
			c.CredstoreDriver = "memory"
			c.CredstorePath = ""
		}, ""},
		{"zero timeout", func(c *Config) { c.HTTPClientTimeout = 0 }, "HTTP_CLIENT_TIMEOUT"},
		{"negative retries", func(c *Config) { c.HTTPClientRetries = -1 }, "HTTP_CLIENT_MAX_RETRIES"},
		{"failure ratio", func(c *Config) { c.CBFailureRatio = 1.5 }, "CB_FAILURE_RATIO"},
		{"rate limit", func(c *Config) { c.LoginRateLimitBurst = 0 }, "login rate limit"},
		{"sample rate", func(c *Config) { c.OTelSampleRate = 2 }, "OTEL_SAMPLE_RATE"},
		{"kafka without brokers", func(c *Config) {
			c.KafkaEnabled = true
			c.KafkaBrokers = nil
		}, "KAFKA_BROKERS"},
		{"consumer without group", func(c *Config) {
			c.KafkaEnabled = true
			c.KafkaBrokers = []string{"k:9092"}
			c.VerificationTopic = "soultalk.accounts.verification_changed"
		}, "KAFKA_CONSUMER_GROUP"},
		{"consumer disabled needs no group", func(c *Config) {
			c.KafkaEnabled = true
			c.KafkaBrokers = []string{"k:9092"}
		}, ""},
		{"bad cidr", func(c *Config) { c.MetricsAllowedCIDRs = []string{"10.0.0.0"} }, "METRICS_ALLOWED_CIDRS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
