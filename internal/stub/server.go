// Package stub is an in-memory stand-in for the auth and wallet services.
//
// It serves both the /auth and /wallet route trees from one handler so the CLI and
// integration tests can run without the real backends. Users, balances and tokens
// live in memory and vanish with the process.
package stub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"tradax/internal/platform/health"
)

type Server struct {
	issuer        Issuer
	state         *state
	logger        *slog.Logger
	health        *health.Handler
	refreshTokens bool
}

type Option func(*options)

type options struct {
	issuer        Issuer
	logger        *slog.Logger
	bcryptCost    int
	now           func() time.Time
	refreshTokens bool
	otp           func() string
}

// WithIssuer replaces the default JWT issuer.
func WithIssuer(issuer Issuer) Option {
	return func(o *options) {
		o.issuer = issuer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBcryptCost lowers hashing cost for tests.
func WithBcryptCost(cost int) Option {
	return func(o *options) {
		o.bcryptCost = cost
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithRefreshTokens controls whether login hands out refresh tokens. The production
// auth service does not, so clients must cope with either.
func WithRefreshTokens(enabled bool) Option {
	return func(o *options) {
		o.refreshTokens = enabled
	}
}

// WithOTPGenerator replaces the random six-digit code generator.
func WithOTPGenerator(fn func() string) Option {
	return func(o *options) {
		o.otp = fn
	}
}

// New builds a stub whose default issuer signs tokens with signingKey for ttl.
func New(signingKey string, ttl time.Duration, opts ...Option) *Server {
	o := options{
		bcryptCost:    bcrypt.DefaultCost,
		now:           time.Now,
		refreshTokens: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.issuer == nil {
		issuer := NewJWTIssuer(signingKey, ttl)
		issuer.now = o.now
		o.issuer = issuer
	}
	st := newState(o.bcryptCost, o.now)
	if o.otp != nil {
		st.newOTP = o.otp
	}
	srv := &Server{
		issuer:        o.issuer,
		state:         st,
		logger:        o.logger,
		health:        health.New(),
		refreshTokens: o.refreshTokens,
	}
	srv.health.RegisterCheck("token_issuer", srv.checkIssuer)
	return srv
}

// checkIssuer round-trips a probe token through the issuer.
func (s *Server) checkIssuer(context.Context) error {
	const probe = "readiness@tradax.local"
	token, err := s.issuer.Issue(probe)
	if err != nil {
		return err
	}
	email, err := s.issuer.Verify(token)
	if err != nil {
		return err
	}
	if email != probe {
		return fmt.Errorf("issuer verified %q as %q", probe, email)
	}
	return nil
}

// Health exposes the probe handler so callers can add readiness checks.
func (s *Server) Health() *health.Handler {
	return s.health
}

// Handler returns the router serving /auth/* and /wallet/*.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recovery(s.logger))
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	s.health.Register(r)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/health", s.health.Service("auth-service"))
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/verify-otp", s.handleVerifyOTP)
		r.Post("/resend-otp", s.handleResendOTP)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/reset-password", s.handleResetPassword)
		r.Post("/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/logout", s.handleLogout)
			r.Put("/profile", s.handleUpdateProfile)
		})
	})

	r.Route("/wallet", func(r chi.Router) {
		r.Get("/health", s.health.Service("wallet-service"))

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/balance", s.handleBalance)
			r.Post("/deposit", s.handleDeposit)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/trade", s.handleTrade)
			r.Get("/history", s.handleHistory)
			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/trading-volume", s.handleTradingVolume)
			r.Get("/profit-loss", s.handleProfitLoss)
		})
	})
	return r
}

// SeedUser adds a verified account that can log in immediately.
func (s *Server) SeedUser(email, password, firstName, lastName string) error {
	return s.state.seed(email, password, firstName, lastName)
}

// PendingOTP returns the code last mailed to email, if it has not been used.
func (s *Server) PendingOTP(email string) (string, bool) {
	return s.state.pendingOTP(email)
}

// PendingResetToken returns the password reset token issued to email.
func (s *Server) PendingResetToken(email string) (string, bool) {
	return s.state.pendingResetToken(email)
}
