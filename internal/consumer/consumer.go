package consumer

import (
	"context"
	"errors"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-notify-backend/internal/broker"
	"github.com/tbourn/go-notify-backend/internal/services"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is the consumer's verdict on one inbound event.
type Outcome int

const (
	// OutcomeAck removes the event from the queue: delivered, resolved by
	// idempotency, or unprocessable in a way retrying cannot fix.
	OutcomeAck Outcome = iota
	// OutcomeRedrive republishes the event into a delay tier and then acks
	// the original.
	OutcomeRedrive
	// OutcomeDrop acks the event after logging it as permanently failed.
	OutcomeDrop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRedrive:
		return "redrive"
	case OutcomeDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// DefaultMaxRedrives bounds how many times one event can loop through the
// delay tiers before it is dropped.
const DefaultMaxRedrives = 5

// Deliverer is the orchestration surface the consumer drives.
type Deliverer interface {
	Deliver(ctx context.Context, in services.DeliverInput) (*services.DeliverResult, error)
}

// TierPublisher republishes an event into a delay tier. *broker.Broker
// satisfies it; tests substitute a recorder.
type TierPublisher interface {
	PublishToTier(ctx context.Context, tier int, body []byte, headers amqp.Table) error
	TierCount() int
}

// Consumer drains the main delivery queue and drives the orchestrator once
// per inbound event.
type Consumer struct {
	Deliverer Deliverer
	Publisher TierPublisher
	Logger    zerolog.Logger

	// MaxRedrives caps tier loops per event; <= 0 selects DefaultMaxRedrives.
	MaxRedrives int
	// HandleTimeout bounds one event's orchestration; <= 0 selects 60s.
	HandleTimeout time.Duration
}

// NewConsumer constructs a Consumer with default limits.
func NewConsumer(d Deliverer, p TierPublisher, logger zerolog.Logger) *Consumer {
	return &Consumer{
		Deliverer:     d,
		Publisher:     p,
		Logger:        logger,
		MaxRedrives:   DefaultMaxRedrives,
		HandleTimeout: 60 * time.Second,
	}
}

// Run processes deliveries until the stream closes or ctx is canceled.
// Every message is acked exactly once; redrives publish the copy before
// acking the original so a crash in between duplicates rather than loses.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.process(ctx, d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	timeout := c.HandleTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retryCount := broker.RetryCount(d.Headers)
	outcome, family := c.Handle(hctx, d.Body, retryCount)

	if outcome == OutcomeRedrive {
		headers := amqp.Table{}
		for k, v := range d.Headers {
			headers[k] = v
		}
		headers[broker.RetryCountHeader] = int32(retryCount + 1)
		tier := retryCount
		if err := c.Publisher.PublishToTier(hctx, tier, d.Body, headers); err != nil {
			// Keep the original so the broker redelivers it.
			c.Logger.Error().Err(err).Int("tier", tier).Msg("tier republish failed, requeueing")
			if nerr := d.Nack(false, true); nerr != nil {
				c.Logger.Error().Err(nerr).Msg("nack failed")
			}
			return
		}
		consumerRedrives.WithLabelValues(strconv.Itoa(tier + 1)).Inc()
	}

	consumerEvents.WithLabelValues(outcome.String(), family).Inc()
	if err := d.Ack(false); err != nil {
		c.Logger.Error().Err(err).Msg("ack failed")
	}
}

// Handle decodes one event body, runs the orchestrator, and classifies the
// result. The second return names the event family for metrics ("" when the
// shape is unknown).
func (c *Consumer) Handle(ctx context.Context, body []byte, retryCount int) (Outcome, string) {
	tr := otel.Tracer("consumer/Consumer")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(attribute.Int("event.retry_count", retryCount)),
	)
	defer span.End()

	in, family, err := decodeEvent(body)
	if err != nil {
		// Malformed events would fail identically on every redelivery.
		c.Logger.Warn().Err(err).Int("body_bytes", len(body)).Msg("discarding unrecognized event")
		return OutcomeAck, "unknown"
	}
	span.SetAttributes(attribute.String("event.family", family))

	logger := c.Logger.With().
		Str("event_family", family).
		Str("correlation_id", in.CorrelationID).
		Int("retry_count", retryCount).
		Logger()

	res, err := c.Deliverer.Deliver(ctx, in)
	switch {
	case err == nil:
		logger.Info().
			Str("request_id", res.RequestID).
			Int("attempts", len(res.Attempts)).
			Msg("delivery completed")
		return OutcomeAck, family

	case errors.Is(err, services.ErrDeliveryRetryable):
		maxRedrives := c.MaxRedrives
		if maxRedrives <= 0 {
			maxRedrives = DefaultMaxRedrives
		}
		if retryCount >= maxRedrives {
			logger.Error().Err(err).Msg("redrive budget exhausted, dropping event")
			return OutcomeDrop, family
		}
		logger.Warn().Err(err).Msg("delivery retryable, redriving")
		return OutcomeRedrive, family

	case isPermanent(err):
		logger.Error().Err(err).Msg("delivery permanently rejected, dropping event")
		return OutcomeDrop, family

	default:
		// Infrastructure faults (DB down, contact service unreachable) are
		// transient by assumption and go back through the tiers.
		maxRedrives := c.MaxRedrives
		if maxRedrives <= 0 {
			maxRedrives = DefaultMaxRedrives
		}
		if retryCount >= maxRedrives {
			logger.Error().Err(err).Msg("redrive budget exhausted, dropping event")
			return OutcomeDrop, family
		}
		logger.Warn().Err(err).Msg("delivery errored, redriving")
		return OutcomeRedrive, family
	}
}

// isPermanent reports whether an orchestration error can never succeed on
// redelivery.
func isPermanent(err error) bool {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return true
	}
	return errors.Is(err, services.ErrNoDeliverableChannel)
}
