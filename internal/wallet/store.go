// Package wallet keeps the signed-in user's balances cached for the current session.
//
// The cache is keyed by session epoch. When the session changes the cache is
// dropped, and a fetch that started under an older epoch is discarded rather than
// stored, so one user's balances can never be served to the next.
package wallet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	walletapi "tradax/internal/clients/wallet"
	"tradax/internal/platform/metrics"
	"tradax/internal/platform/tracer"
	"tradax/internal/session"
)

// API is the part of the wallet facade the store uses.
type API interface {
	Balances(ctx context.Context) (*walletapi.Balances, error)
	PortfolioSummary(ctx context.Context) (*walletapi.Portfolio, error)
	Deposit(ctx context.Context, req walletapi.AssetAmount) (*walletapi.TransactionResult, error)
	Withdraw(ctx context.Context, req walletapi.AssetAmount) (*walletapi.TransactionResult, error)
	Trade(ctx context.Context, req walletapi.TradeRequest) (*walletapi.TransactionResult, error)
}

// Sessions reports the current epoch and announces changes to it.
type Sessions interface {
	Epoch() uint64
	Subscribe(fn func(session.Session)) (cancel func())
}

// Snapshot is what the store knows for one epoch.
type Snapshot struct {
	Epoch     uint64
	Balances  *walletapi.Balances
	Portfolio *walletapi.Portfolio
	FetchedAt time.Time
}

type Store struct {
	api      API
	sessions Sessions
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
	now      func() time.Time

	mu    sync.Mutex
	cache *Snapshot

	unsubscribe func()
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Store) {
		s.tracer = t
	}
}

// New creates a store and subscribes it to session changes. Call Close to detach.
func New(api API, sessions Sessions, opts ...Option) *Store {
	s := &Store{
		api:      api,
		sessions: sessions,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = tracer.NewNoop()
	}
	s.unsubscribe = sessions.Subscribe(s.onSessionChange)
	return s
}

// Close stops listening for session changes.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Store) onSessionChange(sess session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil && s.cache.Epoch != sess.Epoch {
		s.logger.Debug("dropping wallet cache", "old_epoch", s.cache.Epoch, "epoch", sess.Epoch)
		s.cache = nil
	}
}

// Cached returns the snapshot for the current epoch, if any.
func (s *Store) Cached() (Snapshot, bool) {
	epoch := s.sessions.Epoch()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil || s.cache.Epoch != epoch {
		return Snapshot{}, false
	}
	return *s.cache, true
}

// Balances returns the cached balances for the current session, fetching them
// when absent.
func (s *Store) Balances(ctx context.Context) (*walletapi.Balances, error) {
	if snap, ok := s.Cached(); ok && snap.Balances != nil {
		s.metrics.RecordWalletCache(true)
		return snap.Balances, nil
	}
	s.metrics.RecordWalletCache(false)

	epoch := s.sessions.Epoch()
	balances, err := s.api.Balances(ctx)
	if err != nil {
		return nil, err
	}
	s.save(epoch, func(snap *Snapshot) {
		snap.Balances = balances
	})
	return balances, nil
}

// Refresh fetches balances and the portfolio summary concurrently and replaces
// the cache for the current epoch.
func (s *Store) Refresh(ctx context.Context) (snap Snapshot, err error) {
	epoch := s.sessions.Epoch()
	ctx, span := s.tracer.Start(ctx, tracer.SpanWalletRefresh, tracer.Int64(tracer.AttrEpoch, int64(epoch)))
	defer func() { span.End(err) }()

	g, gctx := errgroup.WithContext(ctx)

	// Each goroutine writes to its own variable.
	var balances *walletapi.Balances
	var portfolio *walletapi.Portfolio
	g.Go(func() error {
		var err error
		balances, err = s.api.Balances(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		portfolio, err = s.api.PortfolioSummary(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	fresh := Snapshot{
		Epoch:     epoch,
		Balances:  balances,
		Portfolio: portfolio,
		FetchedAt: s.now(),
	}
	s.save(epoch, func(snap *Snapshot) {
		*snap = fresh
	})
	return fresh, nil
}

func (s *Store) Deposit(ctx context.Context, req walletapi.AssetAmount) (*walletapi.TransactionResult, error) {
	res, err := s.api.Deposit(ctx, req)
	if err != nil {
		return nil, err
	}
	s.refetch(ctx)
	return res, nil
}

func (s *Store) Withdraw(ctx context.Context, req walletapi.AssetAmount) (*walletapi.TransactionResult, error) {
	res, err := s.api.Withdraw(ctx, req)
	if err != nil {
		return nil, err
	}
	s.refetch(ctx)
	return res, nil
}

func (s *Store) Trade(ctx context.Context, req walletapi.TradeRequest) (*walletapi.TransactionResult, error) {
	res, err := s.api.Trade(ctx, req)
	if err != nil {
		return nil, err
	}
	s.refetch(ctx)
	return res, nil
}

// refetch reloads balances after a mutation. The mutation already succeeded, so a
// failed reload is logged and leaves the cache empty for the next reader.
func (s *Store) refetch(ctx context.Context) {
	s.invalidate()
	if _, err := s.Balances(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to reload balances after wallet change", "error", err)
	}
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// save applies update to the cache entry for epoch. Results fetched under an
// epoch that is no longer current are dropped.
func (s *Store) save(epoch uint64, update func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.sessions.Epoch(); current != epoch {
		s.logger.Debug("discarding wallet data fetched for a previous session", "fetched_epoch", epoch, "epoch", current)
		return
	}
	if s.cache == nil || s.cache.Epoch != epoch {
		s.cache = &Snapshot{Epoch: epoch}
	}
	update(s.cache)
	if s.cache.FetchedAt.IsZero() {
		s.cache.FetchedAt = s.now()
	}
}
