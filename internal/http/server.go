package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"expensetracker/internal/core"
	applog "expensetracker/internal/log"
	"expensetracker/internal/metrics"
	"expensetracker/internal/middleware/ratelimit"
	"expensetracker/internal/middleware/security"
	"expensetracker/internal/middleware/trace"
	"expensetracker/internal/session"
)

type (
	// Sessions is the session gateway as seen by the handlers.
	Sessions interface {
		Register(ctx context.Context, email, password string) (session.Session, error)
		Login(ctx context.Context, email, password string) (session.Session, error)
		LoginWithGoogle(ctx context.Context, idToken string) (session.Session, error)
		Logout(ctx context.Context, token string) error
		Authenticate(ctx context.Context, token string) (session.Identity, error)
		SubscribeUser(userID string, buffer int) (<-chan session.Transition, func())
	}

	Transactions interface {
		List(ctx context.Context, userID string) ([]core.Transaction, error)
		Create(ctx context.Context, userID string, in core.TransactionInput) (core.Transaction, error)
		Update(ctx context.Context, userID, id string, in core.TransactionInput) (core.Transaction, error)
		Delete(ctx context.Context, userID, id string) error
	}

	Stats interface {
		Stats(ctx context.Context, userID string) (core.Stats, error)
		Watch(ctx context.Context, userID string) <-chan core.Stats
	}

	// Deps wires the server to the application layer.
	Deps struct {
		Sessions     Sessions
		Transactions Transactions
		Stats        Stats
		Registry     *core.Registry
		Metrics      *metrics.Metrics
		Logger       *applog.Logger
		RateLimit    string
		// Ready reports whether backing services are reachable; nil means always ready.
		Ready func(ctx context.Context) error
	}
)

type Server struct {
	http.Server
	deps     Deps
	detector *security.Detector
	txLog    *applog.StructuredLogger

	// keepAlive spaces stream comments and session re-checks
	keepAlive time.Duration

	// closed on shutdown so open event streams end
	done         chan struct{}
	shutdownOnce sync.Once
}

func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Registry == nil {
		deps.Registry = core.DefaultRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.RateLimit == "" {
		deps.RateLimit = "120-M"
	}

	s := &Server{
		deps:      deps,
		detector:  security.NewDetector(),
		txLog:     applog.NewStructuredLogger(deps.Logger.WithComponent(applog.ComponentTx)),
		keepAlive: defaultKeepAlive,
		done:      make(chan struct{}),
	}

	limiter, err := ratelimit.NewLimiter(deps.RateLimit, s.detector.ExtractClientIP)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	api := http.NewServeMux()
	api.HandleFunc("POST /api/auth/register", s.handleRegister)
	api.HandleFunc("POST /api/auth/login", s.handleLogin)
	api.HandleFunc("POST /api/auth/google", s.handleGoogleLogin)
	api.HandleFunc("POST /api/auth/logout", s.handleLogout)
	api.HandleFunc("GET /api/categories", s.handleCategories)
	api.Handle("GET /api/transactions", s.requireAuth(s.handleListTransactions))
	api.Handle("POST /api/transactions", s.requireAuth(s.handleCreateTransaction))
	api.Handle("PUT /api/transactions/{id}", s.requireAuth(s.handleUpdateTransaction))
	api.Handle("DELETE /api/transactions/{id}", s.requireAuth(s.handleDeleteTransaction))
	api.Handle("GET /api/stats", s.requireAuth(s.handleStats))
	api.Handle("GET /api/stats/stream", s.requireAuth(s.handleStatsStream))
	api.Handle("GET /api/export.csv", s.requireAuth(s.handleExport))

	mux.Handle("/api/", chain(api,
		limiter.Middleware,
		s.detector.Middleware,
	))

	handler := chain(mux,
		trace.NewMiddleware(deps.Logger.WithComponent(applog.ComponentHTTP), s.detector.ExtractClientIP).Middleware,
		deps.Metrics.Middleware,
		security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware,
	)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// chain applies middlewares so the first one listed runs first.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Shutdown ends open event streams, then drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.done)
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
