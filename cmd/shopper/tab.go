package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/artisanhub/internal/app"
	"github.com/example/artisanhub/internal/config"
	"github.com/example/artisanhub/internal/infrastructure/kafka"
	"github.com/example/artisanhub/internal/logging"
	"github.com/example/artisanhub/internal/notify"
	"github.com/example/artisanhub/internal/remote"
	"github.com/example/artisanhub/internal/shell"
	"github.com/example/artisanhub/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newTabCmd(root *rootOptions) *cobra.Command {
	var publishEvents bool

	cmd := &cobra.Command{
		Use:   "tab",
		Short: "Run one interactive client process sharing the long-lived tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			origin := root.origin
			if origin == "" {
				origin = uuid.NewString()
			}
			return runTab(cmd.Context(), cfg, origin, publishEvents)
		},
	}
	cmd.Flags().BoolVar(&publishEvents, "publish-events", false, "forward notifications to the kafka topic")
	return cmd
}

func runTab(ctx context.Context, cfg *config.Config, origin string, publishEvents bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.Log.Level, true).With().Str("origin", origin).Logger()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	tier := storage.NewRedisTier(rdb, cfg.Redis.Prefix, origin, cfg.Redis.TTL, logger)
	if err := tier.Ping(ctx); err != nil {
		return err
	}

	store, closeStore, err := remote.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := app.New(ctx, app.Deps{
		LongLived:         tier,
		Remote:            store,
		RemoteTimeout:     cfg.Remote.Timeout,
		Origin:            origin,
		ClearCartOnLogout: cfg.Cart.ClearOnLogout,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if publishEvents {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		sink := notify.NewKafkaSink(producer, cfg.Remote.Timeout, logger)
		detach := sink.Attach(client.Bus)
		defer sink.Close()
		defer detach()
	}

	stopWatch, err := client.Watch(ctx)
	if err != nil {
		return err
	}
	defer stopWatch()

	var auth shell.Authenticator
	if hc, ok := store.(*remote.HTTPClient); ok {
		auth = hc
	}
	sh := shell.New(client, auth, os.Stdout)
	detach := sh.Attach()
	defer detach()

	return sh.Run(ctx, os.Stdin)
}
