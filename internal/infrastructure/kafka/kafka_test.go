package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	messages []kafka.Message
	err      error
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) Close() error { return nil }

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w)

	err := p.Publish(context.Background(), "user-1", map[string]string{"type": "auth-changed"})

	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	assert.Equal(t, "user-1", string(w.messages[0].Key))
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &body))
	assert.Equal(t, "auth-changed", body["type"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducer_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w)

	assert.Error(t, p.Publish(context.Background(), "k", "v"))
}

func TestConsumer_HandlesUntilEOF(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{
		{Key: []byte("a"), Value: []byte(`1`)},
		{Key: []byte("b"), Value: []byte(`2`)},
		{Key: []byte("c"), Value: []byte(`3`)},
	}}
	c := NewConsumerWithReader(r, zerolog.Nop())

	var keys []string
	err := c.Consume(context.Background(), func(ctx context.Context, key, value []byte) error {
		keys = append(keys, string(key))
		if string(key) == "b" {
			return errors.New("bad message")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewConsumerWithReader(&blockingReader{}, zerolog.Nop())

	err := c.Consume(ctx, func(ctx context.Context, key, value []byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

type blockingReader struct{}

func (blockingReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (blockingReader) Close() error { return nil }
