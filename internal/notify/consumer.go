package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/accountd/apiserver/internal/mq"
)

// Subscriber consumes raw messages from a named channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Claimer guards against delivering the same notification twice when the
// broker redelivers a message.
type Claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Consumer drains the notification channel and dispatches each message.
// A transient dispatch failure nacks the message so the broker retries it;
// malformed and undeliverable messages are logged and acked.
type Consumer struct {
	subscriber Subscriber
	channel    string
	dispatcher *Dispatcher
	claims     Claimer
	logger     *slog.Logger
}

// NewConsumer builds a Consumer. claims may be nil to disable dedup.
func NewConsumer(subscriber Subscriber, channel string, dispatcher *Dispatcher, claims Claimer, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		subscriber: subscriber,
		channel:    channel,
		dispatcher: dispatcher,
		claims:     claims,
		logger:     logger,
	}
}

// Run blocks consuming messages until ctx is cancelled or the broker fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "notification consumer started", slog.String("channel", c.channel))
	return c.subscriber.Subscribe(ctx, c.channel, c.Handle)
}

// Handle processes a single broker message.
func (c *Consumer) Handle(ctx context.Context, msg mq.Message) error {
	var n Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		// A payload that cannot be decoded will never succeed; ack it.
		c.logger.ErrorContext(ctx, "drop malformed notification",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if n.ID == "" {
		n.ID = msg.Attributes[attrNotificationID]
	}

	if c.claims != nil && n.ID != "" {
		claimed, err := c.claims.Claim(ctx, n.ID)
		if err != nil {
			return err
		}
		if !claimed {
			c.logger.InfoContext(ctx, "skip duplicate notification", slog.String("notification_id", n.ID))
			return nil
		}
	}

	if err := c.dispatcher.Dispatch(ctx, n); err != nil {
		if errors.Is(err, ErrUndeliverable) {
			// Redelivery would fail the same way. The claim is kept so a
			// duplicate copy is skipped too.
			c.logger.ErrorContext(ctx, "drop undeliverable notification",
				slog.String("message_id", msg.ID),
				slog.String("notification_id", n.ID),
				slog.String("kind", string(n.Kind)),
				slog.String("error", err.Error()),
			)
			return nil
		}
		c.logger.WarnContext(ctx, "dispatch notification failed",
			slog.String("notification_id", n.ID),
			slog.String("kind", string(n.Kind)),
			slog.String("error", err.Error()),
		)
		if c.claims != nil && n.ID != "" {
			if relErr := c.claims.Release(ctx, n.ID); relErr != nil {
				c.logger.ErrorContext(ctx, "release notification claim failed",
					slog.String("notification_id", n.ID),
					slog.String("error", relErr.Error()),
				)
			}
		}
		return err
	}
	return nil
}
