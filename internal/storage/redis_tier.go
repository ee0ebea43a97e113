package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisTier is the long-lived tier. It is shared by every client process
// using the same prefix, and announces each write on <prefix>:changes.
type RedisTier struct {
	client *redis.Client
	prefix string
	origin string
	ttl    time.Duration
	logger zerolog.Logger
}

var (
	_ Tier      = (*RedisTier)(nil)
	_ Watchable = (*RedisTier)(nil)
)

// NewRedisTier creates a tier writing as origin. A zero ttl keeps keys forever.
func NewRedisTier(client *redis.Client, prefix, origin string, ttl time.Duration, logger zerolog.Logger) *RedisTier {
	return &RedisTier{
		client: client,
		prefix: prefix,
		origin: origin,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis_tier").Logger(),
	}
}

func (t *RedisTier) prefixed(key string) string {
	var b strings.Builder
	b.Grow(len(t.prefix) + 1 + len(key))
	b.WriteString(t.prefix)
	b.WriteString(":")
	b.WriteString(key)
	return b.String()
}

func (t *RedisTier) channel() string {
	return t.prefixed("changes")
}

func (t *RedisTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTier) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := t.client.Get(ctx, t.prefixed(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (t *RedisTier) Set(ctx context.Context, key, value string) error {
	payload, err := t.event(key, false)
	if err != nil {
		return err
	}
	_, err = t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, t.prefixed(key), value, t.ttl)
		pipe.Publish(ctx, t.channel(), payload)
		return nil
	})
	return err
}

func (t *RedisTier) Remove(ctx context.Context, key string) error {
	payload, err := t.event(key, true)
	if err != nil {
		return err
	}
	_, err = t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, t.prefixed(key))
		pipe.Publish(ctx, t.channel(), payload)
		return nil
	})
	return err
}

func (t *RedisTier) event(key string, removed bool) (string, error) {
	data, err := json.Marshal(ChangeEvent{Key: key, Origin: t.origin, Removed: removed, At: time.Now()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal change event: %w", err)
	}
	return string(data), nil
}

// Watch subscribes to the change channel and calls fn for writes made by
// other origins until stop is called or ctx is done.
func (t *RedisTier) Watch(ctx context.Context, fn func(ChangeEvent)) (func(), error) {
	sub := t.client.Subscribe(ctx, t.channel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.channel(), err)
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopped)
			sub.Close()
		})
		<-done
	}

	ch := sub.Channel()
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case <-stopped:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					t.logger.Warn().Err(err).Msg("dropping malformed change event")
					continue
				}
				if ev.Origin == t.origin {
					continue
				}
				fn(ev)
			}
		}
	}()

	return stop, nil
}
