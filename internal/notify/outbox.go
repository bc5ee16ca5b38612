package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	attrKind           = "kind"
	attrNotificationID = "notification_id"
)

// Publisher publishes raw payloads to a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// DirectOutbox delivers notifications synchronously on the caller's goroutine.
type DirectOutbox struct {
	dispatcher *Dispatcher
}

func NewDirectOutbox(dispatcher *Dispatcher) *DirectOutbox {
	return &DirectOutbox{dispatcher: dispatcher}
}

func (o *DirectOutbox) Enqueue(ctx context.Context, n Notification) error {
	return o.dispatcher.Dispatch(ctx, n)
}

// BrokerOutbox publishes notifications to a message broker channel for a
// Consumer to deliver.
type BrokerOutbox struct {
	publisher Publisher
	channel   string
}

func NewBrokerOutbox(publisher Publisher, channel string) (*BrokerOutbox, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("notification channel is required")
	}
	return &BrokerOutbox{publisher: publisher, channel: channel}, nil
}

func (o *BrokerOutbox) Enqueue(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	attrs := map[string]string{
		attrKind:           string(n.Kind),
		attrNotificationID: n.ID,
	}
	if _, err := o.publisher.Publish(ctx, o.channel, data, attrs); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
