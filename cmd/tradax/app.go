package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"tradax/internal/apiclient"
	"tradax/internal/clients/auth"
	walletapi "tradax/internal/clients/wallet"
	"tradax/internal/credential"
	"tradax/internal/platform/config"
	"tradax/internal/platform/metrics"
	"tradax/internal/platform/telemetry"
	"tradax/internal/platform/tracer"
	"tradax/internal/session"
	"tradax/internal/wallet"
	dErrors "tradax/pkg/domain-errors"
)

const serviceName = "tradax-cli"

// preferences are the non-secret settings kept next to the credentials.
type preferences struct {
	LastEmail string `json:"lastEmail,omitempty"`
}

// app holds the wired client stack for one CLI invocation.
type app struct {
	cfg      config.Client
	log      *slog.Logger
	out      io.Writer
	registry *prometheus.Registry

	creds    *credential.Store
	auth     *auth.Client
	wallet   *walletapi.Client
	sessions *session.Manager
	store    *wallet.Store

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Client, log *slog.Logger, out io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		out:      out,
		registry: prometheus.NewRegistry(),
	}

	shutdown := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint, cfg.OTLPInsecure, log)
	a.closers = append(a.closers, shutdown)

	mt := metrics.New(a.registry)
	tr := tracer.NewOTel()

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.creds = credential.New(backend,
		credential.WithLogger(log),
		credential.WithMetrics(mt),
	)

	newAPI := func(name, baseURL string) *apiclient.Client {
		return apiclient.New(baseURL,
			apiclient.WithName(name),
			apiclient.WithTimeout(cfg.RequestTimeout),
			apiclient.WithTokenSource(a.creds),
			apiclient.WithLogger(log),
			apiclient.WithMetrics(mt),
			apiclient.WithTracer(tr),
		)
	}
	a.auth = auth.New(newAPI("auth", cfg.AuthServiceURL))
	a.wallet = walletapi.New(newAPI("wallet", cfg.WalletServiceURL))

	a.sessions = session.New(a.auth, a.creds,
		session.WithLogger(log),
		session.WithMetrics(mt),
		session.WithTracer(tr),
		session.WithValidateOnStart(cfg.ValidateOnStart),
		session.WithExpiryThreshold(cfg.ExpiryThreshold),
	)
	a.store = wallet.New(a.wallet, a.sessions,
		wallet.WithLogger(log),
		wallet.WithMetrics(mt),
		wallet.WithTracer(tr),
	)
	a.closers = append(a.closers, func(context.Context) error {
		a.store.Close()
		return nil
	})

	if _, err := a.sessions.Init(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) openBackend(ctx context.Context) (credential.Backend, error) {
	switch a.cfg.CredentialBackend {
	case config.BackendMemory:
		return credential.NewMemory(), nil
	case config.BackendFile:
		return credential.NewFile(a.cfg.CredentialPath), nil
	case config.BackendRedis:
		if a.cfg.RedisURL == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "TRADAX_REDIS_URL is required for the redis credential backend")
		}
		client, err := credential.DialRedis(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeStorage, "connect to credential store")
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return credential.NewRedis(client, a.cfg.RedisKeyPrefix), nil
	default:
		return nil, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("unknown credential backend %q", a.cfg.CredentialBackend))
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

// requireSession fails fast when no credentials are stored and refreshes a token
// that is about to expire.
func (a *app) requireSession(ctx context.Context) error {
	if a.sessions.State() != session.StateAuthenticated {
		return dErrors.New(dErrors.CodeUnauthorized, "not logged in, run `tradax login` first")
	}
	if refreshed, err := a.sessions.EnsureFresh(ctx); err != nil {
		a.log.Warn("token refresh before request failed", "error", err)
	} else if refreshed {
		a.log.Debug("access token refreshed before request")
	}
	return nil
}

func (a *app) rememberEmail(ctx context.Context, email string) {
	if err := a.creds.SetPreferences(ctx, preferences{LastEmail: email}); err != nil {
		a.log.Warn("failed to save preferences", "error", err)
	}
}

func (a *app) lastEmail(ctx context.Context) string {
	var prefs preferences
	if !a.creds.Preferences(ctx, &prefs) {
		return ""
	}
	return prefs.LastEmail
}
