package remote

import (
	"context"
	"testing"
	"time"

	"github.com/example/artisanhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_HTTPAndNone(t *testing.T) {
	cfg := &config.Config{Remote: config.RemoteConfig{Backend: config.BackendHTTP, BaseURL: "http://edge.local", Timeout: time.Second}}

	store, closeFn, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, store)
	assert.NoError(t, closeFn())

	cfg.Remote.Backend = config.BackendNone
	store, closeFn, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.NotNil(t, closeFn)
}

func TestOpen_Dynamo(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	cfg := &config.Config{
		Remote: config.RemoteConfig{Backend: config.BackendDynamo, Timeout: time.Second},
		Dynamo: config.DynamoConfig{Table: "artisanhub", Region: "us-east-1", Endpoint: "http://localhost:8000"},
	}

	store, _, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &DynamoStore{}, store)
}

func TestOpen_Unknown(t *testing.T) {
	cfg := &config.Config{Remote: config.RemoteConfig{Backend: "carrier-pigeon"}}

	_, closeFn, err := Open(context.Background(), cfg)
	assert.Error(t, err)
	assert.NoError(t, closeFn())
}
