// Package session issues signed session tokens, attaches them to responses as
// cookies, and guards routes that require an authenticated user.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultCookieName = "token"
)

var (
	ErrMissingToken = errors.New("missing session token")
	ErrInvalidToken = errors.New("invalid session token")
)

type contextKey string

const contextUserIDKey contextKey = "userID"

// Options configures an Issuer.
type Options struct {
	Secret     string
	TTL        time.Duration
	CookieName string
	Secure     bool
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// Token is a signed session token and its fixed expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

func NewIssuer(opts Options) (*Issuer, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil, errors.New("session signing secret is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	name := strings.TrimSpace(opts.CookieName)
	if name == "" {
		name = DefaultCookieName
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret:     []byte(secret),
		ttl:        ttl,
		cookieName: name,
		secure:     opts.Secure,
		now:        now,
	}, nil
}

// Issue mints a token for userID that expires after the configured TTL.
func (i *Issuer) Issue(userID string) (Token, error) {
	if strings.TrimSpace(userID) == "" {
		return Token{}, errors.New("session subject is required")
	}
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks signature and expiry and returns the token subject.
func (i *Issuer) Verify(tokenString string) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return i.secret, nil
	},
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.Join(ErrInvalidToken, errors.New("missing subject"))
	}
	return claims.Subject, nil
}

// SetCookie attaches token to the response as an httpOnly cookie.
func (i *Issuer) SetCookie(w http.ResponseWriter, token Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     i.cookieName,
		Value:    token.Value,
		Path:     "/",
		Expires:  token.ExpiresAt,
		MaxAge:   int(i.ttl.Seconds()),
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie instructs the client to drop the session cookie.
func (i *Issuer) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     i.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// TokenFromRequest extracts the session token from the request cookie.
func (i *Issuer) TokenFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(i.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", ErrMissingToken
	}
	return cookie.Value, nil
}

// RequireSession rejects requests without a valid session token and binds the
// token subject into the request context.
func (i *Issuer) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := i.TokenFromRequest(r)
		if err != nil {
			writeUnauthorized(w, "Unauthorized - no token provided")
			return
		}

		userID, err := i.Verify(tokenString)
		if err != nil {
			writeUnauthorized(w, "Unauthorized - invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextUserIDKey, userID)
}

// UserIDFromContext returns the user ID bound by RequireSession.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextUserIDKey).(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
