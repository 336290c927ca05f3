package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"accantona/internal/auth"
	"accantona/internal/core"
	"accantona/internal/log"
	"accantona/internal/middleware/ratelimit"
	"accantona/internal/middleware/trace"
	"accantona/internal/services"

	"github.com/gorilla/mux"
)

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.User, error)
}

// WorkspaceAccess answers whether a user may read a workspace.
type WorkspaceAccess interface {
	CanViewWorkspace(ctx context.Context, userID, workspaceID string) (bool, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles what the API exposes.
type Services struct {
	Catalog  *services.BudgetCatalog
	Ledger   *services.FundingLedger
	Funding  *services.FundingProcessor
	Reserves *services.ReservationAggregator
	Payments *services.PaymentConfirmation

	Auth   Authenticator
	Access WorkspaceAccess
	Store  Pinger
}

// Options tunes the server.
type Options struct {
	RateLimitPerMinute int
	Logger             *log.Logger
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
}

type Server struct {
	http.Server
	svc             Services
	limiter         *ratelimit.Limiter
	traceMiddleware *trace.Middleware
	security        securityMetrics
	appMetrics      appMetrics
	now             func() time.Time

	shutdownOnce sync.Once
}

type appMetrics struct {
	uptime         time.Time
	failedRequests int64
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, svc Services, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		svc: svc,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
		}),
		traceMiddleware: trace.NewMiddleware(extractClientIP),
		appMetrics:      appMetrics{uptime: time.Now()},
		now:             time.Now,
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError(r).Write(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MethodNotAllowedError(r).Write(w)
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	ws := r.PathPrefix("/workspaces/{ws}").Subrouter()
	ws.Use(s.authenticate, s.requireMember)

	throttle := s.limiter.Middleware(rateLimitKey, s.onRateLimited)
	mutating := func(h http.HandlerFunc) http.Handler { return throttle(h) }

	ws.Handle("/budgets", mutating(s.handleCreateBudget)).Methods(http.MethodPost)
	ws.HandleFunc("/budgets", s.handleListBudgets).Methods(http.MethodGet)
	ws.HandleFunc("/budgets/preview", s.handlePreviewBudget).Methods(http.MethodPost)
	ws.HandleFunc("/budgets/{id}", s.handleGetBudget).Methods(http.MethodGet)
	ws.Handle("/budgets/{id}", mutating(s.handleUpdateBudget)).Methods(http.MethodPatch)
	ws.Handle("/budgets/{id}", mutating(s.handleDeleteBudget)).Methods(http.MethodDelete)
	ws.HandleFunc("/budgets/{id}/ledger", s.handleGetLedger).Methods(http.MethodGet)
	ws.Handle("/budgets/{id}/ledger", mutating(s.handlePostLedgerEntry)).Methods(http.MethodPost)
	ws.Handle("/contributions/apply", mutating(s.handleApplyContributions)).Methods(http.MethodPost)
	ws.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	ws.HandleFunc("/payments/upcoming", s.handleUpcomingPayments).Methods(http.MethodGet)
	ws.Handle("/payments/{id}/confirm", mutating(s.handleConfirmPayment)).Methods(http.MethodPost)

	var handler http.Handler = r
	handler = s.securityHeaders(handler)
	handler = accessLog(handler)
	handler = log.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(handler)
	handler = log.Middleware(opts.Logger.WithComponent(log.ComponentHTTP))(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// authenticate rejects requests without a valid bearer token and stores the
// caller in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.svc.Auth == nil {
			UnauthorizedError(r).Write(w)
			return
		}
		user, err := s.svc.Auth.Authenticate(r)
		if err != nil {
			atomic.AddInt64(&s.security.authFailures, 1)
			reason := "invalid"
			if errors.Is(err, auth.ErrMissingToken) {
				reason = "missing"
			}
			log.FromContext(r.Context()).WarnContext(r.Context(), "Authentication failed",
				log.FieldClientIP, extractClientIP(r),
				"reason", reason)
			UnauthorizedError(r).Write(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// requireMember lets through only members of the workspace in the path.
// Managing rights are checked by the services themselves.
func (s *Server) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFromContext(r.Context())
		workspaceID := mux.Vars(r)["ws"]

		ok, err := s.svc.Access.CanViewWorkspace(r.Context(), user.ID, workspaceID)
		if err != nil {
			s.fail(w, r, log.OpRead, "", core.Dependency("permission check failed", err))
			return
		}
		if !ok {
			s.fail(w, r, log.OpRead, "", core.PermissionDenied("you are not a member of this workspace"))
			return
		}
		logger := log.FromContext(r.Context()).ForWorkspace(user.ID, workspaceID)
		next.ServeHTTP(w, r.WithContext(log.NewContext(r.Context(), logger)))
	})
}

// rateLimitKey throttles per caller; it runs after authenticate.
func rateLimitKey(r *http.Request) string {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		return "user:" + user.ID
	}
	return "ip:" + extractClientIP(r)
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, extractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	TooManyRequestsError(r).Write(w)
}

// fail logs a failed operation and writes its error envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, operation, budgetID string, err error) {
	atomic.AddInt64(&s.appMetrics.failedRequests, 1)
	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogOperationFailed(r.Context(), log.ComponentHTTP, operation, mux.Vars(r)["ws"], budgetID, err)
	ErrorResponse(r, err).Write(w)
}

// actor is the authenticated caller id, empty when unauthenticated.
func actor(r *http.Request) string {
	user, _ := auth.UserFromContext(r.Context())
	return user.ID
}
