package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
)

// Dispatcher renders notifications and sends them through a Mailer.
type Dispatcher struct {
	templates *Templates
	mailer    Mailer
	logger    *slog.Logger
}

func NewDispatcher(templates *Templates, mailer Mailer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{templates: templates, mailer: mailer, logger: logger}
}

// Dispatch renders n and sends it.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	if strings.TrimSpace(n.To) == "" {
		return fmt.Errorf("%w: recipient is empty", ErrUndeliverable)
	}
	if _, err := mail.ParseAddress(n.To); err != nil {
		return fmt.Errorf("%w: recipient %q: %s", ErrUndeliverable, n.To, err)
	}

	subject, body, err := d.templates.Render(ctx, n)
	if err != nil {
		return err
	}

	if err := d.mailer.Send(ctx, n.To, subject, body); err != nil {
		return fmt.Errorf("send %s email: %w", n.Kind, err)
	}

	d.logger.InfoContext(ctx, "notification sent",
		slog.String("notification_id", n.ID),
		slog.String("kind", string(n.Kind)),
	)
	return nil
}
