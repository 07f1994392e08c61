package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher is satisfied by *amqp.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueTransport publishes messages to a durable queue; the worker drains
// it with a Consumer.
type QueueTransport struct {
	pub   Publisher
	queue string
}

func NewQueueTransport(pub Publisher, queue string) *QueueTransport {
	return &QueueTransport{pub: pub, queue: queue}
}

func (t *QueueTransport) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	err = t.pub.PublishWithContext(ctx, "", t.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.CreatedAt,
		Type:         string(msg.Event),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", t.queue, err)
	}
	return nil
}

// DeclareQueue declares the durable notification queue on ch.
func DeclareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// Consumer sends queued messages through a Sender. A message that cannot
// be decoded is rejected without requeue; one that still fails after the
// retries is nacked without requeue so it reaches the dead-letter queue if
// one is configured.
type Consumer struct {
	sender     Sender
	maxRetries int
	timeout    time.Duration
	newBackOff func() backoff.BackOff
	logger     zerolog.Logger
}

func NewConsumer(sender Sender, maxRetries int, timeout time.Duration, logger zerolog.Logger) *Consumer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Consumer{
		sender:     sender,
		maxRetries: maxRetries,
		timeout:    timeout,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     logger,
	}
}

// Run handles deliveries until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery and acknowledges it.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil || msg.To == "" || msg.Body == "" {
		c.logger.Error().Err(err).Str("message_id", d.MessageId).Msg("rejecting malformed notification")
		_ = d.Reject(false)
		return
	}
	if !msg.Channel.Valid() {
		msg.Channel = ChannelWhatsApp
	}

	log := c.logger.With().Str("message_id", msg.ID).Str("event", string(msg.Event)).Logger()
	if err := sendWithRetry(ctx, c.sender, msg, c.maxRetries, c.timeout, c.newBackOff()); err != nil {
		log.Error().Err(err).Msg("notification send failed")
		_ = d.Nack(false, false)
		return
	}
	log.Info().Msg("notification sent")
	_ = d.Ack(false)
}
