// Package api is the HTTP surface of the gatekeeper. Every answer route
// runs through the admission pipeline; auth routes sit in front of it.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askgate/askgate/internal/answer"
	"github.com/askgate/askgate/internal/filestore"
	"github.com/askgate/askgate/internal/identity"
	"github.com/askgate/askgate/internal/session"
	"github.com/askgate/askgate/internal/token"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// ServerConfig contains everything the server wires together.
type ServerConfig struct {
	Logger     *slog.Logger
	Identities *identity.Service // Required
	Tokens     *token.Service    // Required
	Pipeline   admitter          // Required
	Inspector  methodInspector   // Required
	Retriever  retriever         // Required
	Generator  answer.Generator  // Required
	Assembler  *answer.Assembler // Required
	Sessions   *session.Store    // Optional: nil disables session routes
	Files      *filestore.Store  // Optional: nil answers 503 on file routes
	Pool       *pgxpool.Pool     // Optional: nil skips the DB ping in /ready

	CORSOrigins []string
	TrustProxy  bool // trust X-Real-IP/X-Forwarded-For
	RateBurst   int  // per-IP burst (0 = default 60)
}

// Server is the gatekeeper HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates a server with all routes registered and the
// middleware stack applied.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Identities == nil {
		return nil, errors.New("identity service is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	auth, err := NewAuthHandler(cfg.Identities, cfg.Tokens, logger)
	if err != nil {
		return nil, err
	}

	var recorder sessionRecorder
	if cfg.Sessions != nil {
		recorder = cfg.Sessions
	}
	query, err := NewQueryHandler(cfg.Pipeline, cfg.Inspector, cfg.Retriever,
		cfg.Generator, cfg.Assembler, recorder, cfg.TrustProxy, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/signup", auth.SignUp)
	mux.HandleFunc("POST /api/v1/auth/login", auth.Login)
	mux.HandleFunc("POST /api/v1/auth/logout", auth.Logout)
	mux.Handle("GET /api/v1/auth/verify",
		requireAuth(cfg.Tokens, logger)(http.HandlerFunc(auth.Verify)))

	// No method pattern: the guard's method rules decide which verbs pass,
	// and a disallowed verb must look like a policy rejection, not a 405.
	mux.HandleFunc("/api/v1/query", query.Ask)

	if cfg.Sessions != nil {
		sh, err := NewSessionHandler(cfg.Sessions, logger)
		if err != nil {
			return nil, err
		}
		authed := requireAuth(cfg.Tokens, logger)
		mux.Handle("POST /api/v1/sessions", authed(http.HandlerFunc(sh.Create)))
		mux.Handle("GET /api/v1/sessions", authed(http.HandlerFunc(sh.List)))
		mux.Handle("GET /api/v1/sessions/{id}", authed(http.HandlerFunc(sh.Get)))
		mux.Handle("DELETE /api/v1/sessions/{id}", authed(http.HandlerFunc(sh.Delete)))
		mux.Handle("GET /api/v1/sessions/{id}/messages", authed(http.HandlerFunc(sh.Messages)))
	}

	fh := NewFileHandler(cfg.Files, logger)
	mux.Handle("POST /api/v1/files/url",
		requireAuth(cfg.Tokens, logger)(http.HandlerFunc(fh.DocumentURL)))

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newIPLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   SecurityHeaders → Recovery → RequestID → Logging → CORS → IPRateLimit → Routes
	// RequestID must precede Logging so request_id is in log attributes.
	// CORS must precede the limiter so preflights get CORS headers.
	handler := chain(mux,
		securityHeadersMiddleware(),
		recoveryMiddleware(logger),
		requestIDMiddleware(cfg.TrustProxy),
		loggingMiddleware(logger),
		corsMiddleware(cfg.CORSOrigins),
		ipRateLimitMiddleware(rl, cfg.TrustProxy, logger),
	)

	// Health probes bypass the middleware stack so orchestrator checks
	// never burn rate budget.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// health answers liveness probes.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, slog.Default())
}

// readiness answers readiness probes, pinging the database when a pool
// is wired.
func readiness(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable,
					map[string]string{"status": "unavailable"}, slog.Default())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, slog.Default())
	})
}
