package services

import (
	"context"
	"time"

	"github.com/accountd/apiserver/internal/notify"
	"github.com/accountd/apiserver/internal/session"
	"github.com/accountd/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByVerificationSecret(ctx context.Context, code string, now time.Time) (types.User, error)
	GetByResetSecret(ctx context.Context, token string, now time.Time) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// SecretGenerator mints verification codes and reset tokens.
type SecretGenerator interface {
	VerificationCode() (string, error)
	ResetToken() (string, error)
}

// SessionIssuer mints signed session tokens for a user ID.
type SessionIssuer interface {
	Issue(userID string) (session.Token, error)
}

// Notifier hands a notification off for delivery.
type Notifier interface {
	Enqueue(ctx context.Context, n notify.Notification) error
}
