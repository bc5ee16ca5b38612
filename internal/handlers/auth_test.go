package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/accountd/apiserver/internal/notify"
	"github.com/accountd/apiserver/internal/secret"
	"github.com/accountd/apiserver/internal/services"
	"github.com/accountd/apiserver/internal/session"
	"github.com/accountd/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureOutbox struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (o *captureOutbox) Enqueue(ctx context.Context, n notify.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, n)
	return nil
}

func (o *captureOutbox) last(kind notify.Kind) (notify.Notification, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Kind == kind {
			return o.sent[i], true
		}
	}
	return notify.Notification{}, false
}

type testEnv struct {
	t      *testing.T
	router *chi.Mux
	users  *store.MemoryUserRepository
	outbox *captureOutbox
	clock  *testClock
	issuer *session.Issuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	issuer, err := session.NewIssuer(session.Options{Secret: "test-secret", Now: clock.Now})
	require.NoError(t, err)

	users := store.NewMemoryUserRepository()
	outbox := &captureOutbox{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	authService := services.NewAuthService(services.AuthDeps{
		Users:     users,
		Secrets:   secret.NewGenerator(),
		Sessions:  issuer,
		Notifier:  outbox,
		Logger:    logger,
		ClientURL: "http://client.test",
		Now:       clock.Now,
		HashCost:  bcrypt.MinCost,
	})

	router := chi.NewRouter()
	router.Get("/healthz", Healthz)
	router.Route("/api/auth", func(r chi.Router) {
		AuthRouter(r, authService, issuer, logger)
	})

	return &testEnv{t: t, router: router, users: users, outbox: outbox, clock: clock, issuer: issuer}
}

func (e *testEnv) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	// Hashes must never leave the server, on any response.
	assert.NotContains(e.t, rec.Body.String(), "$2a$")
	assert.NotContains(e.t, rec.Body.String(), "passwordHash")
	return rec
}

func (e *testEnv) signup(email, password, name string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, "/api/auth/signup",
		`{"email":"`+email+`","password":"`+password+`","name":"`+name+`"}`)
}

func (e *testEnv) login(email, password string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, "/api/auth/login", `{"email":"`+email+`","password":"`+password+`"}`)
}

func (e *testEnv) verificationCode() string {
	e.t.Helper()
	n, ok := e.outbox.last(notify.KindVerification)
	require.True(e.t, ok, "no verification email sent")
	return n.Code
}

func (e *testEnv) resetToken() string {
	e.t.Helper()
	n, ok := e.outbox.last(notify.KindResetRequest)
	require.True(e.t, ok, "no reset email sent")
	idx := strings.LastIndex(n.ResetURL, "/")
	require.Greater(e.t, idx, 0)
	return n.ResetURL[idx+1:]
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultCookieName {
			return c
		}
	}
	t.Fatalf("response carries no %q cookie", session.DefaultCookieName)
	return nil
}

type userBody struct {
	Message string `json:"message"`
	User    struct {
		ID          string     `json:"id"`
		Email       string     `json:"email"`
		Name        string     `json:"name"`
		IsVerified  bool       `json:"isVerified"`
		LastLoginAt *time.Time `json:"lastLoginAt"`
	} `json:"user"`
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func messageOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[ErrorResponse](t, rec).Message
}

func TestSignupVerifyLoginLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.signup("ada@example.com", "s3cret", "Ada")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[userBody](t, rec)
	assert.Equal(t, "User created successfully", created.Message)
	assert.Equal(t, "ada@example.com", created.User.Email)
	assert.Equal(t, "Ada", created.User.Name)
	assert.False(t, created.User.IsVerified)

	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), cookie.MaxAge)

	code := env.verificationCode()
	assert.Len(t, code, 6)

	rec = env.login("ada@example.com", "s3cret")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = env.do(http.MethodPost, "/api/auth/verify-email", `{"code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decodeBody[userBody](t, rec)
	assert.Equal(t, "Email verified successfully", verified.Message)
	assert.True(t, verified.User.IsVerified)

	_, welcomed := env.outbox.last(notify.KindWelcome)
	assert.True(t, welcomed)

	env.clock.Advance(time.Minute)
	rec = env.login("ada@example.com", "s3cret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loggedIn := decodeBody[userBody](t, rec)
	assert.Equal(t, "Login successful", loggedIn.Message)
	require.NotNil(t, loggedIn.User.LastLoginAt)
	assert.True(t, loggedIn.User.LastLoginAt.Equal(env.clock.Now()))

	rec = env.do(http.MethodGet, "/api/auth/check-auth", "", sessionCookie(t, rec))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.User.ID, decodeBody[userBody](t, rec).User.ID)
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.signup("ada@example.com", "", "Ada")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "All fields are required", messageOf(t, rec))

	rec = env.do(http.MethodPost, "/api/auth/signup", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusCreated, env.signup("ada@example.com", "s3cret", "Ada").Code)
	rec = env.signup("ada@example.com", "other", "Someone")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User already exists", messageOf(t, rec))
	assert.Equal(t, 1, env.users.Len())
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.signup("ada@example.com", "s3cret", "Ada").Code)

	unknown := env.login("nobody@example.com", "s3cret")
	wrong := env.login("ada@example.com", "wrong")

	assert.Equal(t, http.StatusBadRequest, unknown.Code)
	assert.Equal(t, unknown.Code, wrong.Code)
	assert.Equal(t, unknown.Body.String(), wrong.Body.String())
	assert.Equal(t, "Invalid credentials", messageOf(t, wrong))
}

func TestVerifyEmailRejectsReusedAndExpiredCodes(t *testing.T) {
	t.Run("reused", func(t *testing.T) {
		env := newTestEnv(t)
		require.Equal(t, http.StatusCreated, env.signup("ada@example.com", "s3cret", "Ada").Code)
		code := env.verificationCode()

		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/auth/verify-email", `{"code":"`+code+`"}`).Code)
		rec := env.do(http.MethodPost, "/api/auth/verify-email", `{"code":"`+code+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid or expired verification code", messageOf(t, rec))
	})

	t.Run("expired", func(t *testing.T) {
		env := newTestEnv(t)
		require.Equal(t, http.StatusCreated, env.signup("ada@example.com", "s3cret", "Ada").Code)
		code := env.verificationCode()

		env.clock.Advance(services.VerificationTTL)
		rec := env.do(http.MethodPost, "/api/auth/verify-email", `{"code":"`+code+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.login("ada@example.com", "s3cret")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("wrong", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodPost, "/api/auth/verify-email", `{"code":"000000"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.signup("ada@example.com", "s3cret", "Ada").Code)
	code := env.verificationCode()
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/auth/verify-email", `{"code":"`+code+`"}`).Code)

	rec := env.do(http.MethodPost, "/api/auth/forgot-password", `{"email":"ada@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Password reset email sent successfully", messageOf(t, rec))

	n, _ := env.outbox.last(notify.KindResetRequest)
	assert.True(t, strings.HasPrefix(n.ResetURL, "http://client.test/reset-password/"))
	token := env.resetToken()
	assert.Len(t, token, 64)

	rec = env.do(http.MethodPost, "/api/auth/reset-password/"+token, `{"newPassword":"n3w"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Password reset successfully", decodeBody[userBody](t, rec).Message)

	_, confirmed := env.outbox.last(notify.KindResetSuccess)
	assert.True(t, confirmed)

	rec = env.do(http.MethodPost, "/api/auth/reset-password/"+token, `{"newPassword":"again"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or expired password reset token", messageOf(t, rec))

	assert.Equal(t, http.StatusBadRequest, env.login("ada@example.com", "s3cret").Code)
	assert.Equal(t, http.StatusOK, env.login("ada@example.com", "n3w").Code)
}

func TestPasswordResetExpires(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.signup("ada@example.com", "s3cret", "Ada").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/auth/forgot-password", `{"email":"ada@example.com"}`).Code)
	token := env.resetToken()

	env.clock.Advance(16 * time.Minute)
	rec := env.do(http.MethodPost, "/api/auth/reset-password/"+token, `{"newPassword":"n3w"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForgotPasswordSupersedesPendingToken(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.signup("ada@example.com", "s3cret", "Ada").Code)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/auth/forgot-password", `{"email":"ada@example.com"}`).Code)
	first := env.resetToken()
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/auth/forgot-password", `{"email":"ada@example.com"}`).Code)
	second := env.resetToken()
	require.NotEqual(t, first, second)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/auth/reset-password/"+first, `{"newPassword":"x"}`).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/auth/reset-password/"+second, `{"newPassword":"x"}`).Code)
}

func TestForgotPasswordErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/auth/forgot-password", `{"email":"nobody@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User not found", messageOf(t, rec))

	rec = env.do(http.MethodPost, "/api/auth/forgot-password", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email is required", messageOf(t, rec))
}

func TestResetPasswordRequiresNewPassword(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/auth/reset-password/abc", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "New password is required", messageOf(t, rec))
}

func TestCheckAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.signup("ada@example.com", "s3cret", "Ada")
	require.Equal(t, http.StatusCreated, rec.Code)
	cookie := sessionCookie(t, rec)
	userID := decodeBody[userBody](t, rec).User.ID

	t.Run("no cookie", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/auth/check-auth", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized - no token provided", messageOf(t, rec))
	})

	t.Run("forged cookie", func(t *testing.T) {
		other, err := session.NewIssuer(session.Options{Secret: "other-secret", Now: env.clock.Now})
		require.NoError(t, err)
		forged, err := other.Issue(userID)
		require.NoError(t, err)

		rec := env.do(http.MethodGet, "/api/auth/check-auth", "",
			&http.Cookie{Name: session.DefaultCookieName, Value: forged.Value})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized - invalid token", messageOf(t, rec))
	})

	t.Run("valid cookie", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/auth/check-auth", "", cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, userID, decodeBody[userBody](t, rec).User.ID)
	})

	t.Run("expired session", func(t *testing.T) {
		token, err := env.issuer.Issue(userID)
		require.NoError(t, err)
		env.clock.Advance(8 * 24 * time.Hour)
		defer env.clock.Advance(-8 * 24 * time.Hour)

		rec := env.do(http.MethodGet, "/api/auth/check-auth", "",
			&http.Cookie{Name: session.DefaultCookieName, Value: token.Value})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("user removed", func(t *testing.T) {
		require.NoError(t, env.users.Delete(context.Background(), userID))
		rec := env.do(http.MethodGet, "/api/auth/check-auth", "", cookie)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "User not found", messageOf(t, rec))
	})
}

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out successfully", messageOf(t, rec))

	cookie := sessionCookie(t, rec)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
