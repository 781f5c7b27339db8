package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-student-marketplace/internal/aws"
	"github.com/imrishuroy/go-student-marketplace/internal/config"
	"github.com/imrishuroy/go-student-marketplace/internal/events"
	"github.com/imrishuroy/go-student-marketplace/internal/metrics"
	"github.com/imrishuroy/go-student-marketplace/internal/notify"
	"github.com/imrishuroy/go-student-marketplace/internal/orders"
	"github.com/imrishuroy/go-student-marketplace/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := aws.NewAWSClients(ctx, aws.Options{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint})
	if err != nil {
		slog.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.SMTPEnabled() {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SenderEmail,
		})
	}

	p := NewProcessor(
		orders.NewStore(clients.DynamoDB, cfg.Tables.Orders),
		notify.NewOrderNotifier(sender, users.NewStore(clients.DynamoDB, cfg.Tables.Users, cfg.Tables.Usernames)),
		metrics.New(clients.CloudWatch, cfg.MetricsNamespace),
	)

	if cfg.EventBus == config.BusKafka {
		consumer := events.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		slog.Info("consuming order events", "bus", "kafka", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID)
		if err := consumer.Run(ctx, p); err != nil {
			slog.Error("kafka consumer stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"type":"order.settled","order_id":"local-order-1"}`
		}
		event := lambdaevents.SQSEvent{Records: []lambdaevents.SQSMessage{{MessageId: "local", Body: body}}}
		if err := p.HandleSQS(ctx, event); err != nil {
			slog.Error("local handler error", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.HandleSQS)
}
