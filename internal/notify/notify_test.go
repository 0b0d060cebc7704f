package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisherPublish(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher(ch, "mail.outbound", zerolog.Nop())

	err := p.Publish(context.Background(), Job{Template: TemplateWelcome, Recipient: "a@example.com", Data: map[string]any{"name": "A"}})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)

	sent := ch.sent[0]
	assert.Equal(t, "", sent.exchange)
	assert.Equal(t, "mail.outbound", sent.key)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, TemplateWelcome, sent.msg.Type)

	var job Job
	require.NoError(t, json.Unmarshal(sent.msg.Body, &job))
	assert.Equal(t, "a@example.com", job.Recipient)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestAMQPPublisherErrors(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel/connection is not open")}
	p := newAMQPPublisher(ch, "q", zerolog.Nop())
	assert.Error(t, p.Publish(context.Background(), Job{Template: TemplateWelcome}))

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	require.NoError(t, p.Close())
	assert.Error(t, p.Publish(context.Background(), Job{Template: TemplateWelcome}))
}

func TestLoggerPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLoggerPublisher(zerolog.New(&buf))
	require.NoError(t, p.Publish(context.Background(), Job{Template: TemplateAccountDeleted, Recipient: "b@example.com"}))
	assert.Contains(t, buf.String(), TemplateAccountDeleted)
}
