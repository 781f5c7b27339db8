package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("EVENT_BUS", "")
	t.Setenv("ORDERS_QUEUE_URL", "")
	t.Setenv("USERS_TABLE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BusSQS, cfg.EventBus)
	assert.Equal(t, "marketplace-users", cfg.Tables.Users)
	assert.Equal(t, 48*time.Hour, cfg.IdempotencyTTL)
	assert.NotEmpty(t, cfg.JWTSecret, "local runs get a development secret")
	assert.False(t, cfg.SMTPEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RUN_LOCAL", "false")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("EVENT_BUS", "KAFKA")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BusKafka, cfg.EventBus)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.True(t, cfg.SMTPEnabled())
	assert.Len(t, cfg.CORSOrigins, 2)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:           "8080",
			JWTSecret:      "0123456789abcdef",
			SessionTTL:     time.Hour,
			EventBus:       BusSQS,
			OrdersQueueURL: "https://sqs.local/q",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.JWTSecret = "" }, wantErr: "JWT_SECRET is required"},
		{name: "short secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: "at least 16"},
		{name: "missing queue", mutate: func(c *Config) { c.OrdersQueueURL = "" }, wantErr: "ORDERS_QUEUE_URL"},
		{name: "unknown bus", mutate: func(c *Config) { c.EventBus = "nats" }, wantErr: "EVENT_BUS"},
		{name: "kafka without topic", mutate: func(c *Config) {
			c.EventBus = BusKafka
			c.KafkaBrokers = []string{"k:9092"}
		}, wantErr: "KAFKA_TOPIC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogger_HandlerFollowsRunMode(t *testing.T) {
	local := &Config{RunLocal: true, LogLevel: slog.LevelDebug}
	_, ok := local.Logger().Handler().(*slog.TextHandler)
	assert.True(t, ok)
	assert.True(t, local.Logger().Enabled(context.Background(), slog.LevelDebug))

	lambda := &Config{LogLevel: slog.LevelWarn}
	_, ok = lambda.Logger().Handler().(*slog.JSONHandler)
	assert.True(t, ok)
	assert.False(t, lambda.Logger().Enabled(context.Background(), slog.LevelInfo))
}
