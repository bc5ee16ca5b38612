package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/accountd/apiserver/internal/services"
	"github.com/accountd/apiserver/internal/session"
	"github.com/accountd/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// AuthHandler provides the account endpoints under /api/auth.
type AuthHandler struct {
	authService *services.AuthService
	sessions    *session.Issuer
	logger      *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, sessions *session.Issuer, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, authService *services.AuthService, sessions *session.Issuer, logger *slog.Logger) {
	handler := NewAuthHandler(authService, sessions, logger)

	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.Post("/verify-email", handler.VerifyEmail)
	r.Post("/forgot-password", handler.ForgotPassword)
	r.Post("/reset-password/{token}", handler.ResetPassword)
	r.With(sessions.RequireSession).Get("/check-auth", handler.CheckAuth)
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type VerifyEmailRequest struct {
	Code string `json:"code"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

type UserResponse struct {
	Message string     `json:"message,omitempty"`
	User    types.User `json:"user"`
}

// Signup creates an account and starts a session for it.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.authService.Signup(r.Context(), services.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "signup")
		return
	}

	h.sessions.SetCookie(w, result.Session)
	writeJSON(w, http.StatusCreated, UserResponse{Message: "User created successfully", User: result.User})
}

// Login verifies credentials and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.authService.Login(r.Context(), services.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "login")
		return
	}

	h.sessions.SetCookie(w, result.Session)
	writeJSON(w, http.StatusOK, UserResponse{Message: "Login successful", User: result.User})
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

// VerifyEmail consumes a verification code.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.authService.VerifyEmail(r.Context(), req.Code)
	if err != nil {
		h.writeServiceError(w, r, err, "verify email")
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{Message: "Email verified successfully", User: user})
}

// ForgotPassword issues a reset token and emails the reset link.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), req.Email); err != nil {
		// An unknown email is reported as a bad request, not a missing resource.
		if services.KindOf(err) == services.KindNotFound {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeServiceError(w, r, err, "forgot password")
		return
	}

	writeMessage(w, http.StatusOK, "Password reset email sent successfully")
}

// ResetPassword consumes a reset token and sets a new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.authService.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.NewPassword)
	if err != nil {
		h.writeServiceError(w, r, err, "reset password")
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{Message: "Password reset successfully", User: user})
}

// CheckAuth returns the user bound to the current session.
func (h *AuthHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.authService.CheckAuth(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "check auth")
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

// writeServiceError maps a workflow error to its HTTP status. Unexpected
// errors are logged in full and reported generically.
func (h *AuthHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var werr *services.Error
	if errors.As(err, &werr) {
		writeMessage(w, statusForKind(werr.Kind), werr.Message)
		return
	}

	h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	writeMessage(w, http.StatusInternalServerError, "Internal server error")
}

func statusForKind(kind services.Kind) int {
	switch kind {
	case services.KindValidation,
		services.KindConflict,
		services.KindInvalidCredentials,
		services.KindInvalidOrExpired:
		return http.StatusBadRequest
	case services.KindNotVerified:
		return http.StatusForbidden
	case services.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
