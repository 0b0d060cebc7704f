// Package notify publishes email jobs for the mail service to RabbitMQ.
// Delivery is best effort: callers log publish errors and carry on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	TemplateWelcome        = "welcome"
	TemplateAccountDeleted = "account-deleted"
)

// Job asks the mail service to render Template for Recipient.
type Job struct {
	Template  string         `json:"template"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Publisher enqueues email jobs.
type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages to a durable queue via
// the default exchange.
type AMQPPublisher struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     channel
	queue  string
	logger zerolog.Logger
}

// DialAMQP connects to url and declares queue.
func DialAMQP(url, queue string, logger zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("notify: declare queue %s: %w", queue, err)
	}
	p := newAMQPPublisher(ch, queue, logger)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch channel, queue string, logger zerolog.Logger) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, queue: queue, logger: logger.With().Str("component", "notify").Logger()}
}

func (p *AMQPPublisher) Publish(ctx context.Context, job Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("notify: encode job: %w", err)
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return fmt.Errorf("notify: publisher is closed")
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    job.CreatedAt,
		Type:         job.Template,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", job.Template, err)
	}
	p.logger.Debug().Str("template", job.Template).Str("queue", p.queue).Msg("email job published")
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// LoggerPublisher logs jobs instead of publishing them.
type LoggerPublisher struct {
	logger zerolog.Logger
}

func NewLoggerPublisher(logger zerolog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger.With().Str("component", "notify").Logger()}
}

func (p *LoggerPublisher) Publish(_ context.Context, job Job) error {
	p.logger.Info().Str("template", job.Template).Str("recipient", job.Recipient).Msg("email job (not published)")
	return nil
}
