// Package api exposes the rewards service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/okian/greenpoints/internal/adapters/wallet"
	"github.com/okian/greenpoints/internal/domain/model"
	"github.com/okian/greenpoints/internal/domain/submission"
	"github.com/okian/greenpoints/pkg/logger"
)

// Dependencies required by HTTP handlers. The service layer implements it.
type Dependencies interface {
	Signup(ctx context.Context) (Credentials, error)
	Signin(ctx context.Context, pubkey, password string) (Session, error)
	Account(ctx context.Context, pubkey string) (Account, error)

	Submit(ctx context.Context, req submission.Request) (model.Submission, error)
	// Submissions lists an account's accepted submissions, newest first.
	// limit <= 0 returns all of them.
	Submissions(ctx context.Context, pubkey string, limit int) ([]model.Submission, error)

	// Distribute runs a round with pool units; pool <= 0 uses the configured default.
	Distribute(ctx context.Context, pool int64) (model.DistributionEvent, error)
	Distributions(limit int) []model.DistributionEvent
	Distribution(id string) (model.DistributionEvent, error)
	RetryDistribution(ctx context.Context, id string) (model.DistributionEvent, error)

	// Supply returns the total units minted so far.
	Supply() int64
}

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Credentials are returned once, at signup.
type Credentials struct {
	PublicKey string `json:"pubkey"`
	Password  string `json:"password"`
}

// Account is the read view of a wallet and its balances.
type Account struct {
	Wallet        wallet.Info `json:"wallet_info"`
	Points        int64       `json:"points"`
	RewardBalance int64       `json:"reward_balance"`
}

// Session is returned at signin.
type Session struct {
	Account
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps          Dependencies
	stats         StatsProvider
	limiter       *RateLimiter
	maxProofBytes int64
	log           logger.Logger
	extra         []func(chi.Router)
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimiter throttles submissions per client.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithMaxProofBytes caps the uploaded proof size.
func WithMaxProofBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxProofBytes = n
		}
	}
}

// WithLogger sets the access logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRoutes mounts additional routes, such as API docs, on the router.
func WithRoutes(fn func(chi.Router)) Option {
	return func(s *Server) {
		if fn != nil {
			s.extra = append(s.extra, fn)
		}
	}
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, stats StatsProvider, opts ...Option) *Server {
	s := &Server{
		deps:          deps,
		stats:         stats,
		maxProofBytes: 10 << 20,
		log:           logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, chimw.Recoverer, AccessLog(s.log))

	r.With(MetricsMiddleware("healthz")).Get("/healthz", s.handleMetrics)
	r.With(MetricsMiddleware("metrics")).Get("/metrics", s.handleMetrics)
	r.With(MetricsMiddleware("stats")).Get("/stats", s.handleStats)

	r.With(MetricsMiddleware("signup")).Post("/signup", s.handleSignup)
	r.With(MetricsMiddleware("signin")).Post("/signin", s.handleSignin)
	r.With(MetricsMiddleware("wallet")).Get("/wallet/{pubkey}", s.handleWallet)

	r.With(MetricsMiddleware("validate"), s.limiter.Middleware).Post("/api/validate", s.handleValidate)
	r.With(MetricsMiddleware("submissions")).Get("/api/submissions/{pubkey}", s.handleSubmissions)

	r.Group(func(r chi.Router) {
		r.Use(MetricsMiddleware("distribute"))
		r.Get("/distribute", s.handleDistribute)
		r.Post("/distribute", s.handleDistribute)
	})
	r.Route("/distributions", func(r chi.Router) {
		r.Use(MetricsMiddleware("distributions"))
		r.Get("/", s.handleListDistributions)
		r.Get("/{id}", s.handleGetDistribution)
		r.Post("/{id}/retry", s.handleRetryDistribution)
	})
	r.With(MetricsMiddleware("total")).Get("/total", s.handleTotal)

	for _, fn := range s.extra {
		fn(r)
	}
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail writes err and logs it when it maps to a server error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request error",
			logger.String("path", r.URL.Path),
			logger.String("request_id", RequestIDFrom(r.Context())),
			logger.Error(err),
		)
	}
	writeError(w, err)
}
