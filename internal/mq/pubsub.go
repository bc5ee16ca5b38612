package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/accountd/apiserver/config"
	"google.golang.org/api/option"
)

const (
	// AttrDeliveryAttempt carries the broker's delivery count when known.
	AttrDeliveryAttempt = "delivery_attempt"
	attrContentType     = "content_type"

	pubsubAckDeadline    = time.Minute
	pubsubMinimumBackoff = 10 * time.Second
	pubsubMaximumBackoff = 10 * time.Minute
)

// PubSubClient publishes and consumes notifications over Google Cloud
// Pub/Sub. Nacked messages are redelivered with exponential backoff so a
// transient mail outage does not spin the worker.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string
	maxOutstanding     int
}

func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}

	return &PubSubClient{
		client:             client,
		subscriptionSuffix: suffix,
		maxOutstanding:     cfg.MaxOutstanding,
	}, nil
}

// Publish sends a JSON payload to the named topic, creating it if needed.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: publishAttributes(attrs)})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub publish %s: %w", channel, err)
	}
	return id, nil
}

// Subscribe consumes the channel's subscription until ctx is cancelled. A
// handler error nacks the message for a delayed redelivery.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return err
	}

	sub, err := p.ensureSubscription(ctx, p.subscriptionName(channel), topic)
	if err != nil {
		return err
	}
	if p.maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = p.maxOutstanding
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handler(ctx, messageFromPubSub(msg)); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("pubsub receive %s: %w", channel, err)
	}
	return ctx.Err()
}

func (p *PubSubClient) Close() error {
	return p.client.Close()
}

func (p *PubSubClient) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("pubsub topic %s: %w", name, err)
	}
	if !exists {
		return p.client.CreateTopic(ctx, name)
	}
	return topic, nil
}

func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("pubsub subscription %s: %w", name, err)
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, subscriptionConfig(topic))
	}
	return sub, nil
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel
	}
	return channel + p.subscriptionSuffix
}

func subscriptionConfig(topic *pubsub.Topic) pubsub.SubscriptionConfig {
	return pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: pubsubAckDeadline,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: pubsubMinimumBackoff,
			MaximumBackoff: pubsubMaximumBackoff,
		},
	}
}

// publishAttributes copies attrs and tags the payload as JSON.
func publishAttributes(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out[attrContentType] = "application/json"
	return out
}

func messageFromPubSub(msg *pubsub.Message) Message {
	attrs := make(map[string]string, len(msg.Attributes)+1)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	if msg.DeliveryAttempt != nil {
		attrs[AttrDeliveryAttempt] = strconv.Itoa(*msg.DeliveryAttempt)
	}
	return Message{
		ID:         msg.ID,
		Data:       msg.Data,
		Attributes: attrs,
	}
}
