package main

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/artisanhub/internal/config"
	"github.com/example/artisanhub/internal/email"
	"github.com/example/artisanhub/internal/logging"
	"github.com/example/artisanhub/internal/notification"
	"github.com/rs/zerolog"
)

var (
	notificationHandler *notification.Handler
	logger              zerolog.Logger
)

func init() {
	cfg, err := config.Load("")
	if err != nil {
		bootLogger := logging.New("info", false)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = logging.Component(logging.New(cfg.Log.Level, false), "lambda-notifier")

	sender, err := email.FromConfig(cfg.Email)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure email")
	}
	notificationHandler = notification.NewHandler(sender, logger)
	logger.Info().Str("email_provider", cfg.Email.Provider).Msg("initialized")
}

// handler receives batches from an MSK (Kafka) trigger. A failed record fails
// the batch so Lambda retries it.
func handler(ctx context.Context, kafkaEvent events.KafkaEvent) error {
	total, failed := 0, 0
	var firstErr error

	for _, records := range kafkaEvent.Records {
		for _, record := range records {
			total++
			if err := handleRecord(ctx, record); err != nil {
				failed++
				logger.Warn().Err(err).
					Str("topic", record.Topic).
					Interface("partition", record.Partition).
					Interface("offset", record.Offset).
					Msg("failed to process record")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	logger.Info().Int("records", total).Int("failed", failed).Msg("batch processed")
	return firstErr
}

func handleRecord(ctx context.Context, record events.KafkaRecord) error {
	value, err := base64.StdEncoding.DecodeString(record.Value)
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(record.Key)
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}
	return notificationHandler.HandleEvent(ctx, key, value)
}

func main() {
	lambda.Start(handler)
}
