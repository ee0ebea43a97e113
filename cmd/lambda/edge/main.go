package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/artisanhub/internal/api"
	"github.com/example/artisanhub/internal/auth"
	"github.com/example/artisanhub/internal/config"
	"github.com/example/artisanhub/internal/logging"
	"github.com/example/artisanhub/internal/remote"
)

// Configuration comes from ARTISANHUB_* environment variables; the function
// normally runs with remote.backend=dynamo.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		bootLogger := logging.New("info", false)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.Component(logging.New(cfg.Log.Level, false), "lambda-edge")

	store, _, err := remote.Open(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	if store == nil {
		logger.Fatal().Msg("remote.backend must name a database")
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry)
	router := api.NewRouter(api.NewServer(store, jwtService, logger))

	logger.Info().Str("backend", cfg.Remote.Backend).Msg("initialized")
	lambda.Start(api.LambdaHandler(router))
}
