package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"github.com/example/artisanhub/internal/config"
	"github.com/example/artisanhub/internal/email"
	"github.com/example/artisanhub/internal/infrastructure/kafka"
	"github.com/example/artisanhub/internal/logging"
	"github.com/example/artisanhub/internal/notification"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := logging.New("info", false)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.Component(logging.New(cfg.Log.Level, cfg.Log.Pretty), "notifier")

	sender, err := email.FromConfig(cfg.Email)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure email")
	}
	handler := notification.NewHandler(sender, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, logger)
	defer consumer.Close()

	logger.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.Topic).
		Str("group", cfg.Kafka.GroupID).
		Str("email_provider", cfg.Email.Provider).
		Msg("consuming client events")

	if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped")
	}
	logger.Info().Msg("shutting down")
}
