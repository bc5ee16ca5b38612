package types

import "time"

// PendingSecret is a single-use secret bound to a user record together with
// its expiry. A nil *PendingSecret means no secret is pending.
type PendingSecret struct {
	Value     string
	ExpiresAt time.Time
}

// NewPendingSecret returns a secret that expires ttl after now.
func NewPendingSecret(value string, now time.Time, ttl time.Duration) *PendingSecret {
	return &PendingSecret{Value: value, ExpiresAt: now.Add(ttl)}
}

// ValidAt reports whether the secret is still usable at now.
// A secret whose expiry equals now is already expired.
func (s *PendingSecret) ValidAt(now time.Time) bool {
	return s != nil && s.ExpiresAt.After(now)
}

// User represents an account in the system.
// It contains identity, verification state, and pending credential secrets.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"id"`

	// Email is the user's email address. It is unique and compared as stored.
	Email string `json:"email"`

	// Name is the user's display name.
	Name string `json:"name"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-"`

	// IsVerified flips to true once the email address has been confirmed.
	IsVerified bool `json:"isVerified"`

	// Verification holds the pending signup verification code, if any.
	Verification *PendingSecret `json:"-"`

	// Reset holds the pending password reset token, if any.
	Reset *PendingSecret `json:"-"`

	// LastLoginAt is the time of the most recent successful login.
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt"`
}
