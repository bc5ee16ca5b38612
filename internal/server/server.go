package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/accountd/apiserver/config"
	"github.com/accountd/apiserver/internal/handlers"
	"github.com/accountd/apiserver/internal/secret"
	"github.com/accountd/apiserver/internal/services"
	"github.com/accountd/apiserver/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	closers    closers
}

// New wires the user store, notification pipeline, and auth routes.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cleanup closers
	fail := func(err error) (*Server, error) {
		cleanup.closeAll(logger)
		return nil, err
	}

	sessions, err := session.NewIssuer(session.Options{
		Secret:     cfg.Auth.JWTSecret,
		TTL:        cfg.Auth.SessionTTL,
		CookieName: cfg.Auth.CookieName,
		Secure:     cfg.Auth.CookieSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("JWT_SECRET: %w", err)
	}

	users, err := openUserRepository(ctx, cfg, &cleanup)
	if err != nil {
		return fail(err)
	}

	dispatcher, err := newDispatcher(ctx, cfg, logger, &cleanup)
	if err != nil {
		return fail(err)
	}

	outbox, err := newOutbox(ctx, cfg, dispatcher, &cleanup)
	if err != nil {
		return fail(err)
	}

	authService := services.NewAuthService(services.AuthDeps{
		Users:     users,
		Secrets:   secret.NewGenerator(),
		Sessions:  sessions,
		Notifier:  outbox,
		Logger:    logger,
		ClientURL: cfg.Auth.ClientURL,
	})

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(logger),
		middleware.Recoverer,
		allowClient(cfg.Auth.ClientURL),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, sessions, logger)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 5000
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server configured",
		slog.Int("port", port),
		slog.String("store", cfg.Store.Backend),
		slog.String("notify", cfg.Notify.Backend),
	)

	return &Server{
		httpServer: httpServer,
		router:     router,
		logger:     logger,
		closers:    cleanup,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases backend connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closers.closeAll(s.logger)
	return err
}

// requestLogger logs one structured line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// allowClient lets the configured frontend origin call the API with
// credentials so the session cookie is sent.
func allowClient(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin != "" && r.Header.Get("Origin") == origin {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
