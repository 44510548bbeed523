package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vapter/vapter/pkg/log"
)

// Connection tuning for RabbitMQ.
const (
	heartbeatInterval    = 60 * time.Second
	publishAttempts      = 3
	publishRetryDelay    = 2 * time.Second
	reconnectBaseDelay   = 5 * time.Second
	reconnectMaxDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// AMQPBroker talks to RabbitMQ. It holds one connection for publishing
// and dials a dedicated connection per Consume subscription, so a
// consumer blocked on a long-running handler cannot starve outbound
// publishes of heartbeat frames.
type AMQPBroker struct {
	url string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewAMQPBroker dials RabbitMQ and opens the publisher channel.
func NewAMQPBroker(url string) (*AMQPBroker, error) {
	b := &AMQPBroker{url: url}
	if err := b.dialPublisher(); err != nil {
		return nil, err
	}
	return b, nil
}

// dialPublisher replaces the publisher connection and channel.
// Callers must hold b.mu.
func (b *AMQPBroker) dialPublisher() error {
	conn, err := amqp.DialConfig(b.url, amqp.Config{Heartbeat: heartbeatInterval})
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open publisher channel: %w", err)
	}
	b.conn = conn
	b.channel = ch
	return nil
}

// queueArgs returns the declaration arguments shared by every queue.
func queueArgs() amqp.Table {
	return amqp.Table{
		"x-message-ttl": int32(messageTTL),
		"x-max-length":  int32(maxQueueLength),
		"x-overflow":    "drop-head",
	}
}

func declareQueue(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, queueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return nil
}

// DeclareQueues creates the named queues on the publisher channel.
func (b *AMQPBroker) DeclareQueues(queues ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, q := range queues {
		if err := declareQueue(b.channel, q); err != nil {
			return err
		}
	}
	return nil
}

// Publish sends a persistent message to the named queue. Failed
// publishes redial the publisher connection and retry.
func (b *AMQPBroker) Publish(ctx context.Context, queue string, body []byte) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Expiration:   strconv.Itoa(messageTTL),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	logger := log.WithQueue(queue)
	var lastErr error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err := b.publishOnce(ctx, queue, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		lastErr = err
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("publish failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(publishRetryDelay):
		}
	}
	return fmt.Errorf("failed to publish to %s after %d attempts: %w", queue, publishAttempts, lastErr)
}

func (b *AMQPBroker) publishOnce(ctx context.Context, queue string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.conn == nil || b.conn.IsClosed() {
		if err := b.dialPublisher(); err != nil {
			return err
		}
	}
	if err := b.channel.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		// Drop the connection so the next attempt redials.
		b.conn.Close()
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Consume subscribes to the named queue on a dedicated connection and
// feeds deliveries to handler one at a time. Lost connections are
// redialed with exponential backoff; cancelling ctx stops the
// subscription cleanly.
func (b *AMQPBroker) Consume(ctx context.Context, queue string, prefetch int, handler Handler) error {
	if prefetch < 1 {
		prefetch = 1
	}
	logger := log.WithQueue(queue)
	delay := reconnectBaseDelay
	attempts := 0

	for {
		connected, err := b.consumeSession(ctx, queue, prefetch, handler)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempts = 0
			delay = reconnectBaseDelay
		}
		attempts++
		if attempts > maxReconnectAttempts {
			return fmt.Errorf("gave up consuming %s after %d reconnect attempts: %w", queue, maxReconnectAttempts, err)
		}
		logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("retry_in", delay).
			Msg("consumer disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// consumeSession runs one subscription until the connection drops or
// ctx is cancelled. The returned bool reports whether the subscription
// was established, which resets the caller's backoff.
func (b *AMQPBroker) consumeSession(ctx context.Context, queue string, prefetch int, handler Handler) (bool, error) {
	conn, err := amqp.DialConfig(b.url, amqp.Config{Heartbeat: heartbeatInterval})
	if err != nil {
		return false, fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return false, fmt.Errorf("failed to set prefetch: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		return false, err
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("failed to consume from %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case d, ok := <-deliveries:
			if !ok {
				return true, fmt.Errorf("delivery channel for %s closed", queue)
			}
			switch handler(ctx, d.Body) {
			case Ack:
				if err := d.Ack(false); err != nil {
					return true, fmt.Errorf("failed to ack delivery: %w", err)
				}
			case Requeue:
				if err := d.Nack(false, true); err != nil {
					return true, fmt.Errorf("failed to requeue delivery: %w", err)
				}
			case Reject:
				if err := d.Nack(false, false); err != nil {
					return true, fmt.Errorf("failed to reject delivery: %w", err)
				}
			}
		}
	}
}

// Close shuts down the publisher connection. Active Consume calls stop
// when their contexts are cancelled.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			return fmt.Errorf("failed to close broker connection: %w", err)
		}
	}
	return nil
}
