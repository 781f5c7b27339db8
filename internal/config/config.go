package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Event bus kinds.
const (
	BusSQS   = "sqs"
	BusKafka = "kafka"
)

// Tables holds the DynamoDB table names.
type Tables struct {
	Users       string
	Usernames   string
	Items       string
	Requests    string
	Orders      string
	Ratings     string
	RatingVotes string
	Counters    string
	Idempotency string
}

// Config is the process configuration for both the API and the worker.
type Config struct {
	Port     string
	RunLocal bool
	LogLevel slog.Level

	AWSRegion   string
	AWSEndpoint string

	Tables         Tables
	IdempotencyTTL time.Duration

	JWTSecret    string
	SessionTTL   time.Duration
	CookieSecure bool
	CORSOrigins  []string
	RedisAddr    string

	EventBus       string
	OrdersQueueURL string
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroupID   string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	MetricsNamespace string
}

// Load reads the environment, applies defaults and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		RunLocal: getBool("RUN_LOCAL", false),
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),

		AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
		AWSEndpoint: os.Getenv("AWS_ENDPOINT_OVERRIDE"),

		Tables: Tables{
			Users:       getEnv("USERS_TABLE", "marketplace-users"),
			Usernames:   getEnv("USERNAMES_TABLE", "marketplace-usernames"),
			Items:       getEnv("ITEMS_TABLE", "marketplace-items"),
			Requests:    getEnv("REQUESTS_TABLE", "marketplace-purchase-requests"),
			Orders:      getEnv("ORDERS_TABLE", "marketplace-orders"),
			Ratings:     getEnv("RATINGS_TABLE", "marketplace-ratings"),
			RatingVotes: getEnv("RATING_VOTES_TABLE", "marketplace-rating-votes"),
			Counters:    getEnv("COUNTERS_TABLE", "marketplace-counters"),
			Idempotency: getEnv("IDEMPOTENCY_TABLE", "marketplace-idempotency"),
		},
		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 48*time.Hour),

		JWTSecret:    os.Getenv("JWT_SECRET"),
		SessionTTL:   getDuration("SESSION_TTL", 24*time.Hour),
		CookieSecure: getBool("COOKIE_SECURE", true),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),

		EventBus:       strings.ToLower(getEnv("EVENT_BUS", BusSQS)),
		OrdersQueueURL: os.Getenv("ORDERS_QUEUE_URL"),
		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "order-events"),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", "marketplace-notifier"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SenderEmail:  getEnv("SENDER_EMAIL", "no-reply@student-marketplace.local"),

		MetricsNamespace: getEnv("METRICS_NAMESPACE", "StudentMarketplace"),
	}

	if cfg.JWTSecret == "" && cfg.RunLocal {
		slog.Warn("JWT_SECRET not set, using an insecure development secret")
		cfg.JWTSecret = "dev-secret-change-me"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 16 && !c.RunLocal {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	switch c.EventBus {
	case BusSQS:
		if c.OrdersQueueURL == "" && !c.RunLocal {
			return fmt.Errorf("ORDERS_QUEUE_URL is required when EVENT_BUS=sqs")
		}
	case BusKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENT_BUS=kafka")
		}
		if c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_TOPIC is required when EVENT_BUS=kafka")
		}
	default:
		return fmt.Errorf("EVENT_BUS must be %q or %q, got %q", BusSQS, BusKafka, c.EventBus)
	}
	if c.SMTPHost != "" && c.SMTPPort <= 0 {
		return fmt.Errorf("SMTP_PORT must be positive")
	}
	return nil
}

// SMTPEnabled reports whether a real mail transport is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// Logger returns the process logger: text for local runs, JSON under Lambda
// so CloudWatch Logs Insights can query the fields.
func (c *Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.RunLocal {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", v)
		return defaultValue
	}
	return b
}

func getInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
		return defaultValue
	}
	return d
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
