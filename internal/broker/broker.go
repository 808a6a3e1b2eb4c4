// Package broker owns the AMQP topology of the delivery engine: one main
// queue carrying inbound delivery events, and a chain of tier queues that
// realize a delay-queue retry scheduler out of broker primitives alone.
//
// Each tier queue has a fixed, increasing message TTL and dead-letters its
// expired messages back onto the main exchange. Republishing a failed event
// into tier N therefore redelivers it to the main queue after tier N's
// delay, with no external timer service and no polling.
package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetryCountHeader carries the redrive counter on republished events.
const RetryCountHeader = "x-retry-count"

// Config names the topology. Tiers lists the per-tier delays in ascending
// order; the retry counter is clamped to the last tier.
type Config struct {
	URL        string
	Exchange   string // main exchange, e.g. "notify"
	Queue      string // main queue, e.g. "notify.deliver"
	RoutingKey string // main binding key, e.g. "deliver"
	Tiers      []time.Duration
}

// Broker wraps one AMQP connection and channel with the declared topology.
type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	cfg  Config
}

// Dial connects to the broker and declares the full topology.
func Dial(cfg Config) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	b := &Broker{conn: conn, ch: ch, cfg: cfg}
	if err := b.declareTopology(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// declareTopology declares the main exchange/queue, the shared retry
// exchange, and one delay queue per tier. Declarations are idempotent as
// long as the parameters match, so every consumer instance can run this at
// boot.
func (b *Broker) declareTopology() error {
	if err := b.ch.ExchangeDeclare(b.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.cfg.Exchange, err)
	}
	if _, err := b.ch.QueueDeclare(b.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", b.cfg.Queue, err)
	}
	if err := b.ch.QueueBind(b.cfg.Queue, b.cfg.RoutingKey, b.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", b.cfg.Queue, err)
	}

	retryExchange := b.retryExchange()
	if err := b.ch.ExchangeDeclare(retryExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", retryExchange, err)
	}

	for i, ttl := range b.cfg.Tiers {
		name := b.tierQueue(i)
		args := amqp.Table{
			"x-message-ttl":             ttl.Milliseconds(),
			"x-dead-letter-exchange":    b.cfg.Exchange,
			"x-dead-letter-routing-key": b.cfg.RoutingKey,
		}
		if _, err := b.ch.QueueDeclare(name, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare tier queue %s: %w", name, err)
		}
		if err := b.ch.QueueBind(name, b.tierKey(i), retryExchange, false, nil); err != nil {
			return fmt.Errorf("bind tier queue %s: %w", name, err)
		}
	}
	return nil
}

// Publish sends an event onto the main exchange.
func (b *Broker) Publish(ctx context.Context, body []byte, headers amqp.Table) error {
	return b.ch.PublishWithContext(ctx, b.cfg.Exchange, b.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      headers,
	})
}

// PublishToTier republishes an event into the delay queue for the given
// tier index, clamped to the configured range. Once the tier's TTL
// elapses, the broker dead-letters the copy back to the main queue.
func (b *Broker) PublishToTier(ctx context.Context, tier int, body []byte, headers amqp.Table) error {
	if len(b.cfg.Tiers) == 0 {
		return fmt.Errorf("no retry tiers configured")
	}
	if tier < 0 {
		tier = 0
	}
	if tier >= len(b.cfg.Tiers) {
		tier = len(b.cfg.Tiers) - 1
	}
	return b.ch.PublishWithContext(ctx, b.retryExchange(), b.tierKey(tier), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers:      headers,
	})
}

// Consume opens the main-queue delivery stream with manual acknowledgment.
func (b *Broker) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	// One unacked message at a time keeps redrives ordered per consumer.
	if err := b.ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return b.ch.Consume(b.cfg.Queue, consumerTag, false, false, false, false, nil)
}

// TierCount returns the number of configured delay tiers.
func (b *Broker) TierCount() int { return len(b.cfg.Tiers) }

// Close tears down the channel and connection.
func (b *Broker) Close() {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}

func (b *Broker) retryExchange() string { return b.cfg.Exchange + ".retry" }

func (b *Broker) tierQueue(i int) string {
	return fmt.Sprintf("%s.retry.%d", b.cfg.Queue, i+1)
}

func (b *Broker) tierKey(i int) string {
	return fmt.Sprintf("%s.tier.%d", b.cfg.RoutingKey, i+1)
}

// RetryCount reads the redrive counter from a delivery's headers; absent or
// malformed headers count as zero.
func RetryCount(headers amqp.Table) int {
	v, ok := headers[RetryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
