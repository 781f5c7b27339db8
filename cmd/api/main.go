package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/imrishuroy/go-student-marketplace/internal/auth"
	"github.com/imrishuroy/go-student-marketplace/internal/aws"
	"github.com/imrishuroy/go-student-marketplace/internal/checkout"
	"github.com/imrishuroy/go-student-marketplace/internal/config"
	orderevents "github.com/imrishuroy/go-student-marketplace/internal/events"
	"github.com/imrishuroy/go-student-marketplace/internal/handlers"
	"github.com/imrishuroy/go-student-marketplace/internal/idempotency"
	"github.com/imrishuroy/go-student-marketplace/internal/items"
	"github.com/imrishuroy/go-student-marketplace/internal/metrics"
	"github.com/imrishuroy/go-student-marketplace/internal/notify"
	"github.com/imrishuroy/go-student-marketplace/internal/orders"
	"github.com/imrishuroy/go-student-marketplace/internal/ratings"
	"github.com/imrishuroy/go-student-marketplace/internal/requests"
	"github.com/imrishuroy/go-student-marketplace/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logger())

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, aws.Options{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint})
	if err != nil {
		slog.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	publisher := newPublisher(cfg, clients)
	defer publisher.Close()

	userStore := users.NewStore(clients.DynamoDB, cfg.Tables.Users, cfg.Tables.Usernames)
	itemStore := items.NewStore(clients.DynamoDB, cfg.Tables.Items)
	requestStore := requests.NewStore(clients.DynamoDB, cfg.Tables.Requests)
	orderStore := orders.NewStore(clients.DynamoDB, cfg.Tables.Orders)
	idemStore := idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.IdempotencyTTL)
	recorder := metrics.New(clients.CloudWatch, cfg.MetricsNamespace)

	checkoutSvc := checkout.NewService(checkout.Deps{
		DynamoDB:    clients.DynamoDB,
		Users:       userStore,
		Items:       itemStore,
		Requests:    requestStore,
		Orders:      orderStore,
		Counter:     orders.NewCounter(clients.DynamoDB, cfg.Tables.Counters),
		Idempotency: idemStore,
		Publisher:   publisher,
		Metrics:     recorder,
	})

	h := handlers.New(handlers.HandlerConfig{
		Users:        userStore,
		Items:        itemStore,
		Requests:     requestStore,
		Orders:       orderStore,
		Ratings:      ratings.NewService(ratings.NewStore(clients.DynamoDB, cfg.Tables.Ratings, cfg.Tables.RatingVotes), orderStore),
		Checkout:     checkoutSvc,
		Idempotency:  idemStore,
		Mailer:       newMailer(cfg),
		Tokens:       auth.NewTokens(cfg.JWTSecret, cfg.SessionTTL),
		Revocations:  newRevocations(ctx, cfg),
		CookieSecure: cfg.CookieSecure,
		CORSOrigins:  cfg.CORSOrigins,
	})
	r := handlers.NewRouter(h)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		gin.SetMode(gin.DebugMode)
		addr := ":" + cfg.Port
		slog.Info("running local server", "addr", addr, "event_bus", cfg.EventBus)
		if err := r.Run(addr); err != nil {
			slog.Error("failed to run local server", "error", err)
			os.Exit(1)
		}
		return
	}

	gin.SetMode(gin.ReleaseMode)
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func newPublisher(cfg *config.Config, clients *aws.AWSClients) orderevents.Publisher {
	if cfg.EventBus == config.BusKafka {
		slog.Info("publishing order events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return orderevents.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	return orderevents.NewSQSPublisher(aws.NewPublisher(clients.SQS, cfg.OrdersQueueURL))
}

func newMailer(cfg *config.Config) notify.Sender {
	if !cfg.SMTPEnabled() {
		slog.Warn("SMTP_HOST not set, emails are logged instead of sent")
		return notify.LogSender{}
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SenderEmail,
	})
}

// newRevocations connects to Redis. Local runs without Redis fall back to an
// in-process list.
func newRevocations(ctx context.Context, cfg *config.Config) auth.Revocations {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if cfg.RunLocal {
			slog.Warn("redis unreachable, keeping revoked sessions in memory", "addr", cfg.RedisAddr, "error", err)
			_ = client.Close()
			return auth.NewMemoryRevocations()
		}
		slog.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	}
	return auth.NewRedisRevocations(client)
}
