package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/resource-watch/authentication-sub000/internal/config"
)

// messageWriter is the subset of *kafka.Writer used by KafkaEmitter.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka audit producer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	WriteTimeout time.Duration
}

// KafkaEmitter produces audit events to a Kafka topic.
type KafkaEmitter struct {
	mu     sync.RWMutex
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaEmitter creates a synchronous producer for cfg.Topic.
func NewKafkaEmitter(cfg KafkaConfig, logger zerolog.Logger) *KafkaEmitter {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: writeTimeout,
		BatchTimeout: 10 * time.Millisecond,
	}
	if cfg.ClientID != "" {
		writer.Transport = &kafka.Transport{ClientID: cfg.ClientID}
	}
	return newKafkaEmitter(writer, cfg.Topic, logger)
}

func newKafkaEmitter(w messageWriter, topic string, logger zerolog.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "audit-kafka").Logger(),
	}
}

// Emit writes one event keyed by its target id.
func (e *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.writer == nil {
		return fmt.Errorf("audit: kafka writer is closed")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: serialize event: %w", err)
	}
	key := event.TargetID
	if key == "" {
		key = event.EventID.String()
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID.String())},
			{Key: "action", Value: []byte(event.Action)},
			{Key: "actor_id", Value: []byte(event.ActorID)},
		},
		Time: event.CreatedAt,
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		e.logger.Error().Err(err).Str("event_id", event.EventID.String()).Str("action", event.Action).Msg("failed to publish audit event")
		return fmt.Errorf("audit: publish to kafka: %w", err)
	}
	e.logger.Debug().Str("event_id", event.EventID.String()).Str("topic", e.topic).Msg("audit event published")
	return nil
}

// Close flushes and closes the writer. Safe to call more than once.
func (e *KafkaEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer == nil {
		return nil
	}
	err := e.writer.Close()
	e.writer = nil
	return err
}

// NewEmitterFromConfig returns a KafkaEmitter when brokers are configured
// and a LoggerEmitter otherwise.
func NewEmitterFromConfig(cfg *config.Config, logger zerolog.Logger) Emitter {
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		logger.Info().Msg("KAFKA_BROKERS not set, audit events will be logged")
		return NewLoggerEmitter(logger)
	}
	logger.Info().Strs("brokers", brokers).Str("topic", cfg.KafkaTopic).Msg("audit events will be sent to kafka")
	return NewKafkaEmitter(KafkaConfig{
		Brokers:  brokers,
		Topic:    cfg.KafkaTopic,
		ClientID: cfg.KafkaClientID,
	}, logger)
}
