package services

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow failure for the transport layer.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindInvalidCredentials
	KindNotVerified
	KindInvalidOrExpired
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindNotVerified:
		return "not_verified"
	case KindInvalidOrExpired:
		return "invalid_or_expired"
	case KindNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is an expected workflow failure whose Message is safe to show clients.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf returns the Kind of err, or 0 when err is not a workflow error.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return 0
}

var (
	ErrMissingFields       = newError(KindValidation, "All fields are required")
	ErrUserExists          = newError(KindConflict, "User already exists")
	ErrInvalidCredentials  = newError(KindInvalidCredentials, "Invalid credentials")
	ErrEmailNotVerified    = newError(KindNotVerified, "Please verify your email before logging in")
	ErrInvalidVerification = newError(KindInvalidOrExpired, "Invalid or expired verification code")
	ErrInvalidResetToken   = newError(KindInvalidOrExpired, "Invalid or expired password reset token")
	ErrUserNotFound        = newError(KindNotFound, "User not found")
	ErrEmailRequired       = newError(KindValidation, "Email is required")
	ErrResetTokenRequired  = newError(KindValidation, "Token is required")
	ErrNewPasswordRequired = newError(KindValidation, "New password is required")
	ErrPasswordTooLong     = newError(KindValidation, "Password is too long")
)
