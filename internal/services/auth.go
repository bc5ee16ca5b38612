package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/accountd/apiserver/internal/notify"
	"github.com/accountd/apiserver/internal/session"
	"github.com/accountd/apiserver/internal/store"
	"github.com/accountd/apiserver/types"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	VerificationTTL = 15 * time.Minute
	ResetTTL        = 15 * time.Minute

	defaultHashCost = 10
	resetPathPrefix = "/reset-password/"
)

// SignupInput carries the fields required to create an account.
type SignupInput struct {
	Email    string
	Password string
	Name     string
}

func (in SignupInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.Password, validation.Required),
		validation.Field(&in.Name, validation.Required),
	)
}

// LoginInput carries login credentials.
type LoginInput struct {
	Email    string
	Password string
}

func (in LoginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.Password, validation.Required),
	)
}

// AuthResult is returned by workflows that start a session.
type AuthResult struct {
	User    types.User
	Session session.Token
}

// AuthDeps wires an AuthService to its collaborators.
type AuthDeps struct {
	Users    UserRepository
	Secrets  SecretGenerator
	Sessions SessionIssuer
	Notifier Notifier
	Logger   *slog.Logger

	// ClientURL is the public frontend base used to build reset links.
	ClientURL string
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
	// HashCost overrides the bcrypt cost; defaults to 10.
	HashCost int
}

// AuthService implements the account workflows: signup, login, email
// verification, password reset, and session lookup.
type AuthService struct {
	users     UserRepository
	secrets   SecretGenerator
	sessions  SessionIssuer
	notifier  Notifier
	logger    *slog.Logger
	clientURL string
	now       func() time.Time
	hashCost  int

	dummyOnce sync.Once
	dummyHash []byte
}

func NewAuthService(deps AuthDeps) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cost := deps.HashCost
	if cost == 0 {
		cost = defaultHashCost
	}
	return &AuthService{
		users:     deps.Users,
		secrets:   deps.Secrets,
		sessions:  deps.Sessions,
		notifier:  deps.Notifier,
		logger:    logger,
		clientURL: strings.TrimRight(deps.ClientURL, "/"),
		now:       now,
		hashCost:  cost,
	}
}

// Signup creates an unverified account, starts a session for it, and sends
// the verification code.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (AuthResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return AuthResult{}, ErrMissingFields
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return AuthResult{}, ErrUserExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	code, err := s.secrets.VerificationCode()
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.Create(ctx, types.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Verification: types.NewPendingSecret(code, s.now(), VerificationTTL),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return AuthResult{}, ErrUserExists
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue session: %w", err)
	}

	n := notify.New(notify.KindVerification, user.Email)
	n.Name = user.Name
	n.Code = code
	s.enqueue(ctx, n)

	s.logger.InfoContext(ctx, "user signed up", slog.String("user_id", user.ID))
	return AuthResult{User: user, Session: token}, nil
}

// Login checks credentials and starts a session for a verified user.
// Unknown emails and wrong passwords fail with the same error.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := in.Validate(); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.burnPasswordCheck(in.Password)
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	if !user.IsVerified {
		return AuthResult{}, ErrEmailNotVerified
	}

	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue session: %w", err)
	}

	now := s.now()
	user.LastLoginAt = &now
	user, err = s.users.Update(ctx, user)
	if err != nil {
		return AuthResult{}, fmt.Errorf("record login: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	return AuthResult{User: user, Session: token}, nil
}

// VerifyEmail consumes a pending verification code and marks the account
// verified. Wrong, expired, and already used codes fail identically.
func (s *AuthService) VerifyEmail(ctx context.Context, code string) (types.User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return types.User{}, ErrInvalidVerification
	}

	now := s.now()
	user, err := s.users.GetByVerificationSecret(ctx, code, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidVerification
		}
		return types.User{}, fmt.Errorf("load user by verification code: %w", err)
	}
	if !user.Verification.ValidAt(now) {
		return types.User{}, ErrInvalidVerification
	}

	user.IsVerified = true
	user.Verification = nil
	user, err = s.users.Update(ctx, user)
	if err != nil {
		return types.User{}, fmt.Errorf("mark user verified: %w", err)
	}

	n := notify.New(notify.KindWelcome, user.Email)
	n.Name = user.Name
	s.enqueue(ctx, n)

	s.logger.InfoContext(ctx, "email verified", slog.String("user_id", user.ID))
	return user, nil
}

// ForgotPassword stores a fresh reset token for the account, replacing any
// pending one, and sends the reset link.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmailRequired
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}

	token, err := s.secrets.ResetToken()
	if err != nil {
		return err
	}

	user.Reset = types.NewPendingSecret(token, s.now(), ResetTTL)
	if _, err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	n := notify.New(notify.KindResetRequest, user.Email)
	n.Name = user.Name
	n.ResetURL = s.clientURL + resetPathPrefix + token
	s.enqueue(ctx, n)

	s.logger.InfoContext(ctx, "password reset requested", slog.String("user_id", user.ID))
	return nil
}

// ResetPassword consumes a pending reset token and replaces the password.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (types.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return types.User{}, ErrResetTokenRequired
	}
	if newPassword == "" {
		return types.User{}, ErrNewPasswordRequired
	}

	now := s.now()
	user, err := s.users.GetByResetSecret(ctx, token, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidResetToken
		}
		return types.User{}, fmt.Errorf("load user by reset token: %w", err)
	}
	if !user.Reset.ValidAt(now) {
		return types.User{}, ErrInvalidResetToken
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return types.User{}, err
	}

	user.PasswordHash = hash
	user.Reset = nil
	user, err = s.users.Update(ctx, user)
	if err != nil {
		return types.User{}, fmt.Errorf("store new password: %w", err)
	}

	n := notify.New(notify.KindResetSuccess, user.Email)
	n.Name = user.Name
	s.enqueue(ctx, n)

	s.logger.InfoContext(ctx, "password reset", slog.String("user_id", user.ID))
	return user, nil
}

// CheckAuth loads the user bound to an already verified session.
func (s *AuthService) CheckAuth(ctx context.Context, userID string) (types.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUserNotFound
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// burnPasswordCheck spends the same bcrypt work as a real comparison so an
// unknown email is not distinguishable by response time.
func (s *AuthService) burnPasswordCheck(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("accountd-dummy-password"), s.hashCost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

// enqueue hands n to the notifier. The state change has already been
// persisted, so a delivery failure is logged rather than returned.
func (s *AuthService) enqueue(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Enqueue(ctx, n); err != nil {
		s.logger.ErrorContext(ctx, "enqueue notification failed",
			slog.String("notification_id", n.ID),
			slog.String("kind", string(n.Kind)),
			slog.String("error", err.Error()),
		)
	}
}
