package ingestion

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
)

// DeadLetterSink receives deliveries that exhausted their retry budget or
// failed without any prospect of a retry succeeding.
type DeadLetterSink interface {
	OnDeadLetter(ctx context.Context, event Event, raw []byte, attempts int, reason string) error
}

type ingester interface {
	Ingest(ctx context.Context, event Event) (*Result, error)
}

// Consumer pulls creation events from Pub/Sub and drives them through the
// pipeline. Ack/nack decisions follow the error taxonomy: transient errors
// are nacked for redelivery, permanent ones are parked in the dead-letter
// store and acked.
type Consumer struct {
	subscription *gcppubsub.Subscriber
	pipeline     ingester
	sink         DeadLetterSink
	maxAttempts  int
	logg         *logger.Logger
}

// NewConsumer creates the ingest worker consumer.
func NewConsumer(subscription *gcppubsub.Subscriber, pipeline ingester, sink DeadLetterSink, maxAttempts int, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("ingest subscription is required")
	}
	if pipeline == nil {
		return nil, errors.New("ingestion pipeline is required")
	}
	if sink == nil {
		return nil, errors.New("dead letter sink is required")
	}
	if maxAttempts <= 0 {
		return nil, errors.New("max attempts must be positive")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		subscription: subscription,
		pipeline:     pipeline,
		sink:         sink,
		maxAttempts:  maxAttempts,
		logg:         logg,
	}, nil
}

type processResult struct {
	nack bool
}

// Run starts consuming creation events until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (c *Consumer) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	ctx = c.logg.WithMessageID(ctx, msg.ID)

	attempts := 1
	if msg.DeliveryAttempt != nil && *msg.DeliveryAttempt > 0 {
		attempts = *msg.DeliveryAttempt
	}

	event, err := ParseEvent(msg.Data)
	if err != nil {
		// malformed payloads are never retried
		c.logg.Error(ctx, "invalid creation event", err)
		return c.deadLetter(ctx, Event{MessageID: msg.ID}, msg.Data, attempts, err)
	}
	if event.MessageID == "" {
		event.MessageID = msg.ID
	}

	result, err := c.pipeline.Ingest(ctx, *event)
	if err != nil {
		// contention means another worker holds the message right now;
		// the attempt budget never turns that into a dead letter
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeLockContention {
			c.logg.Warn(ctx, "message in flight elsewhere, requeueing")
			return processResult{nack: true}
		}
		if pkgerrors.Retryable(err) && attempts < c.maxAttempts {
			c.logg.Warn(ctx, "transient ingest error, requeueing")
			return processResult{nack: true}
		}
		c.logg.Error(ctx, "ingest exhausted or unrecoverable", err)
		return c.deadLetter(ctx, *event, msg.Data, attempts, err)
	}

	ctx = c.logg.WithField(ctx, "outcome", result.Outcome.String())
	c.logg.Info(ctx, "creation event processed")
	return processResult{}
}

func (c *Consumer) deadLetter(ctx context.Context, event Event, raw []byte, attempts int, cause error) processResult {
	if err := c.sink.OnDeadLetter(ctx, event, raw, attempts, cause.Error()); err != nil {
		// keep the message alive rather than losing it
		c.logg.Error(ctx, "dead letter persistence failed", err)
		return processResult{nack: true}
	}
	return processResult{}
}
