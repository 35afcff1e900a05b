package deadletter

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/dcastellanos/ordergate-backend/internal/ingestion"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
)

// Consumer drains the transport's dead-letter subscription. Messages land
// here when the broker's own delivery policy gives up on them, so they are
// parked directly without another pipeline attempt.
type Consumer struct {
	subscription *gcppubsub.Subscriber
	sink         Service
	logg         *logger.Logger
}

// NewConsumer creates the dead-letter drain consumer.
func NewConsumer(subscription *gcppubsub.Subscriber, sink Service, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("dead letter subscription is required")
	}
	if sink == nil {
		return nil, errors.New("dead letter service is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{subscription: subscription, sink: sink, logg: logg}, nil
}

// Run blocks receiving until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if c.process(msgCtx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

func (c *Consumer) process(ctx context.Context, msg *gcppubsub.Message) bool {
	ctx = c.logg.WithMessageID(ctx, msg.ID)

	attempts := 1
	if msg.DeliveryAttempt != nil && *msg.DeliveryAttempt > 0 {
		attempts = *msg.DeliveryAttempt
	}

	event, err := ingestion.ParseEvent(msg.Data)
	if err != nil {
		event = &ingestion.Event{MessageID: msg.ID}
	}
	if event.MessageID == "" {
		event.MessageID = msg.ID
	}

	if err := c.sink.OnDeadLetter(ctx, *event, msg.Data, attempts, "exceeded broker delivery policy"); err != nil {
		c.logg.Error(ctx, "failed to park broker dead letter", err)
		return false
	}
	return true
}
