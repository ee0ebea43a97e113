package remote

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/artisanhub/internal/config"
)

// Open builds the Store selected by cfg.Remote.Backend. The returned close
// func releases connections and is never nil. Backend "none" yields a nil
// Store, which leaves the cart core local-only.
func Open(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Remote.Backend {
	case config.BackendPostgres:
		db, err := ConnectPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, noop, fmt.Errorf("connect postgres: %w", err)
		}
		store := NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("apply schema: %w", err)
		}
		return store, db.Close, nil

	case config.BackendDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Dynamo.Region))
		if err != nil {
			return nil, noop, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Dynamo.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Dynamo.Endpoint)
			}
		})
		return NewDynamoStore(client, cfg.Dynamo.Table), noop, nil

	case config.BackendHTTP:
		return NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Timeout), noop, nil

	case config.BackendNone:
		return nil, noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
}
