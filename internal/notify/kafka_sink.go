package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventProducer is satisfied by the kafka producer
type EventProducer interface {
	Publish(ctx context.Context, key string, value any) error
}

// KafkaSink forwards bus events to a topic from a background goroutine so
// the UI path never waits on the broker. Events are dropped when the buffer
// is full.
type KafkaSink struct {
	producer EventProducer
	timeout  time.Duration
	logger   zerolog.Logger

	events chan Event
	done   chan struct{}
	once   sync.Once
}

const sinkBuffer = 256

func NewKafkaSink(producer EventProducer, timeout time.Duration, logger zerolog.Logger) *KafkaSink {
	s := &KafkaSink{
		producer: producer,
		timeout:  timeout,
		logger:   logger.With().Str("component", "kafka-sink").Logger(),
		events:   make(chan Event, sinkBuffer),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

// Attach subscribes the sink to bus
func (s *KafkaSink) Attach(bus *Bus) (detach func()) {
	return bus.Subscribe(s.Publish)
}

func (s *KafkaSink) Publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Str("type", string(ev.Type)).Msg("event buffer full, dropping event")
	}
}

func (s *KafkaSink) loop() {
	defer close(s.done)
	for ev := range s.events {
		key := ev.UserID
		if key == "" {
			key = ev.Origin
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.producer.Publish(ctx, key, ev); err != nil {
			s.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("failed to publish event")
		}
		cancel()
	}
}

// Close flushes buffered events and stops the sink. Publish must not be
// called after Close.
func (s *KafkaSink) Close() {
	s.once.Do(func() { close(s.events) })
	<-s.done
}
