// Package notify delivers account emails. Workflows enqueue a Notification on
// an Outbox; the Dispatcher renders it and hands it to a Mailer, either inline
// or from a broker Consumer.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which email a Notification renders to.
type Kind string

const (
	KindVerification Kind = "verification"
	KindWelcome      Kind = "welcome"
	KindResetRequest Kind = "reset_request"
	KindResetSuccess Kind = "reset_success"
)

// ErrUndeliverable marks a notification that will fail the same way on every
// attempt, such as an unknown kind or a rejected recipient. Consumers drop
// such messages instead of asking the broker to redeliver them.
var ErrUndeliverable = errors.New("notification undeliverable")

// Notification is the broker-safe description of one email.
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	To        string    `json:"to"`
	Name      string    `json:"name,omitempty"`
	Code      string    `json:"code,omitempty"`
	ResetURL  string    `json:"resetUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// New returns a Notification with a fresh ID.
func New(kind Kind, to string) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		To:        to,
		CreatedAt: time.Now().UTC(),
	}
}

// Outbox accepts notifications for delivery.
type Outbox interface {
	Enqueue(ctx context.Context, n Notification) error
}

// Mailer sends a rendered HTML email.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}
