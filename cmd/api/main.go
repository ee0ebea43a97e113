package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/artisanhub/internal/api"
	"github.com/example/artisanhub/internal/auth"
	"github.com/example/artisanhub/internal/config"
	"github.com/example/artisanhub/internal/logging"
	"github.com/example/artisanhub/internal/remote"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := logging.New("info", false)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.Component(logging.New(cfg.Log.Level, cfg.Log.Pretty), "api")

	if cfg.Remote.Backend != config.BackendPostgres && cfg.Remote.Backend != config.BackendDynamo {
		logger.Fatal().Str("backend", cfg.Remote.Backend).Msg("the edge API needs remote.backend postgres or dynamo")
	}
	if len(cfg.JWT.Secret) < 32 {
		logger.Warn().Msg("jwt.secret is shorter than 32 characters")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := remote.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry)
	router := api.NewRouter(api.NewServer(store, jwtService, logger))

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Str("backend", cfg.Remote.Backend).Msg("server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
		os.Exit(1)
	}
}
