package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestIssuer(t *testing.T, clock *fakeClock) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(Options{
		Secret: "test-secret",
		TTL:    time.Hour,
		Secure: true,
		Now:    clock.Now,
	})
	require.NoError(t, err)
	return issuer
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer(Options{Secret: "   "})
	assert.Error(t, err)
}

func TestIssueAndVerify(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)

	token, err := issuer.Issue("user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, clock.now.Add(time.Hour), token.ExpiresAt, time.Second)

	subject, err := issuer.Verify(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)

	token, err := issuer.Issue("user-1")
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Hour)
	_, err = issuer.Verify(token.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)

	other, err := NewIssuer(Options{Secret: "other-secret", Now: clock.Now})
	require.NoError(t, err)
	forged, err := other.Issue("user-1")
	require.NoError(t, err)

	_, err = issuer.Verify(forged.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Verify(forged.Value + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)

	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSetAndClearCookie(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)
	token, err := issuer.Issue("user-1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	issuer.SetCookie(rec, token)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.Equal(t, token.Value, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, 3600, cookies[0].MaxAge)

	rec = httptest.NewRecorder()
	issuer.ClearCookie(rec)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestRequireSession(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)
	token, err := issuer.Issue("user-42")
	require.NoError(t, err)

	var boundID string
	protected := issuer.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		boundID, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		cookie *http.Cookie
		status int
	}{
		{name: "no cookie", status: http.StatusUnauthorized},
		{name: "empty cookie", cookie: &http.Cookie{Name: DefaultCookieName, Value: ""}, status: http.StatusUnauthorized},
		{name: "tampered", cookie: &http.Cookie{Name: DefaultCookieName, Value: token.Value + "a"}, status: http.StatusUnauthorized},
		{name: "valid", cookie: &http.Cookie{Name: DefaultCookieName, Value: token.Value}, status: http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			boundID = ""
			req := httptest.NewRequest(http.MethodGet, "/api/auth/check-auth", nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "user-42", boundID)
			} else {
				assert.Empty(t, boundID)
				assert.Contains(t, rec.Body.String(), "Unauthorized")
			}
		})
	}
}
