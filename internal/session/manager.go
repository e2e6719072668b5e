// Package session owns the client's authentication state.
//
// The Manager is the only writer of credentials during login and logout, and the
// only source of the session epoch: a counter that advances on every successful
// login and every logout so dependents can tell one authenticated session from the
// next. Transitions are serialized; reads never wait on an in-flight login.
package session

//go:generate mockgen -source=manager.go -destination=mocks/mocks.go -package=mocks AuthAPI,CredentialStore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tradax/internal/clients/auth"
	"tradax/internal/credential"
	"tradax/internal/platform/metrics"
	"tradax/internal/platform/tracer"
	dErrors "tradax/pkg/domain-errors"
)

// AuthAPI is the part of the auth facade the manager drives.
type AuthAPI interface {
	Login(ctx context.Context, creds auth.Credentials) (*auth.LoginResponse, error)
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.RegisterResponse, error)
	VerifyOTP(ctx context.Context, req auth.VerifyOTPRequest) (*auth.Ack, error)
	RefreshToken(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context) error
}

// CredentialStore persists the tokens that outlive the process.
// Error Contract: Token returns ("", nil) when nothing is stored; writes fail with storage-coded errors.
type CredentialStore interface {
	Token(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	RefreshToken(ctx context.Context) string
	SetRefreshToken(ctx context.Context, refreshToken string) error
	RemoveRefreshToken(ctx context.Context) error
	Clear(ctx context.Context) error
	IsValid(ctx context.Context) bool
	IsExpiringSoon(ctx context.Context, threshold time.Duration) bool
}

var errInvalidLoginResponse = dErrors.New(dErrors.CodeSession, "Invalid login response")

type Manager struct {
	auth  AuthAPI
	creds CredentialStore

	validateOnStart bool
	remoteLogout    bool
	expiryThreshold time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer

	// transition serializes every state-changing operation end to end.
	transition sync.Mutex

	mu      sync.RWMutex
	current Session

	subsMu  sync.Mutex
	subs    map[int]func(Session)
	nextSub int
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithValidateOnStart controls whether Init discards an expired or malformed
// persisted token. Enabled by default.
func WithValidateOnStart(enabled bool) Option {
	return func(m *Manager) {
		m.validateOnStart = enabled
	}
}

// WithRemoteLogout controls whether Logout notifies the backend. Enabled by default.
func WithRemoteLogout(enabled bool) Option {
	return func(m *Manager) {
		m.remoteLogout = enabled
	}
}

// WithExpiryThreshold sets how close to expiry EnsureFresh starts refreshing.
func WithExpiryThreshold(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.expiryThreshold = d
		}
	}
}

func New(authAPI AuthAPI, creds CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		auth:            authAPI,
		creds:           creds,
		validateOnStart: true,
		remoteLogout:    true,
		expiryThreshold: credential.DefaultExpiryThreshold,
		current:         Session{State: StateLoading, IsLoading: true},
		subs:            make(map[int]func(Session)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.tracer == nil {
		m.tracer = tracer.NewNoop()
	}
	return m
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone()
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.State
}

func (m *Manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Epoch
}

// User returns a copy of the signed-in user, or nil.
func (m *Manager) User() *auth.UserProfile {
	return m.Snapshot().User
}

// Subscribe registers fn to run after every epoch change with the new session.
// Callbacks run synchronously on the goroutine performing the transition and must
// not call Manager methods that change state.
func (m *Manager) Subscribe(fn func(Session)) (cancel func()) {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
		})
	}
}

// Init restores the session from persisted credentials. It makes no network calls.
// The loading flag is always cleared, whatever the outcome.
func (m *Manager) Init(ctx context.Context) (sess Session, err error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	ctx, span := m.tracer.Start(ctx, tracer.SpanSessionInit)
	defer func() { span.End(err) }()

	m.mu.Lock()
	m.current.IsLoading = true
	m.mu.Unlock()

	token, readErr := m.creds.Token(ctx)
	if readErr != nil {
		m.logger.WarnContext(ctx, "credential read failed during init, starting anonymous", "error", readErr)
		token = ""
	}

	if token != "" && m.validateOnStart && !m.creds.IsValid(ctx) {
		m.logger.InfoContext(ctx, "discarding expired or malformed persisted token")
		if clearErr := m.creds.Clear(ctx); clearErr != nil {
			m.logger.WarnContext(ctx, "failed to discard stale credentials", "error", clearErr)
		}
		token = ""
	}

	if token == "" {
		sess = m.apply(func(s *Session) {
			s.State = StateAnonymous
			s.IsAuthenticated = false
			s.IsLoading = false
			s.User = nil
		}, false)
		m.metrics.RecordTransition(transitionInitAnonymous, sess.Epoch)
		return sess, nil
	}

	sess = m.apply(func(s *Session) {
		s.State = StateAuthenticated
		s.IsAuthenticated = true
		s.IsLoading = false
	}, true)
	m.metrics.RecordTransition(transitionInitAuthenticated, sess.Epoch)
	span.AddEvent(tracer.EventEpochBumped, tracer.Int64(tracer.AttrEpoch, int64(sess.Epoch)))
	m.logger.InfoContext(ctx, "session restored", "epoch", sess.Epoch)
	m.notify(sess)
	return sess, nil
}

// Login authenticates with the backend and establishes a new session.
// HTTP and network errors are returned unchanged and leave the state untouched.
// A reply that cannot be decoded is an invalid login response.
func (m *Manager) Login(ctx context.Context, creds auth.Credentials) (sess Session, err error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	ctx, span := m.tracer.Start(ctx, tracer.SpanSessionLogin,
		tracer.String(tracer.AttrUserHash, tracer.HashEmail(creds.Email)),
	)
	defer func() { span.End(err) }()

	resp, err := m.auth.Login(ctx, creds)
	if dErrors.HasCode(err, dErrors.CodeDecode) {
		err = &dErrors.Error{Code: dErrors.CodeSession, Message: errInvalidLoginResponse.Error(), Err: err}
	}
	if err != nil {
		m.metrics.IncrementAuthFailures()
		m.logger.InfoContext(ctx, "login failed",
			"user_hash", tracer.HashEmail(creds.Email), "error", err)
		return m.Snapshot(), err
	}
	return m.establish(ctx, span, resp)
}

// Establish performs the login transition for a response obtained elsewhere.
func (m *Manager) Establish(ctx context.Context, resp *auth.LoginResponse) (sess Session, err error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	ctx, span := m.tracer.Start(ctx, tracer.SpanSessionLogin)
	defer func() { span.End(err) }()

	return m.establish(ctx, span, resp)
}

func (m *Manager) establish(ctx context.Context, span tracer.Span, resp *auth.LoginResponse) (Session, error) {
	if resp == nil || resp.Token == "" || resp.User == nil {
		m.metrics.IncrementAuthFailures()
		return m.Snapshot(), errInvalidLoginResponse
	}

	if err := m.creds.Set(ctx, resp.Token); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist access token", "error", err)
		return m.Snapshot(), err
	}
	m.storeRefreshToken(ctx, resp.RefreshToken)

	user := *resp.User
	sess := m.apply(func(s *Session) {
		s.State = StateAuthenticated
		s.IsAuthenticated = true
		s.IsLoading = false
		s.User = &user
	}, true)

	m.metrics.RecordTransition(transitionLogin, sess.Epoch)
	span.SetAttributes(tracer.String(tracer.AttrUserHash, tracer.HashEmail(user.Email)))
	span.AddEvent(tracer.EventEpochBumped, tracer.Int64(tracer.AttrEpoch, int64(sess.Epoch)))
	m.logger.InfoContext(ctx, "session established",
		"user_hash", tracer.HashEmail(user.Email), "epoch", sess.Epoch)
	m.notify(sess)
	return sess, nil
}

// storeRefreshToken replaces the persisted refresh token. A missing or unstorable
// refresh token only disables Refresh; it never fails a login.
func (m *Manager) storeRefreshToken(ctx context.Context, refreshToken string) {
	if refreshToken != "" {
		err := m.creds.SetRefreshToken(ctx, refreshToken)
		if err == nil {
			return
		}
		m.logger.WarnContext(ctx, "failed to persist refresh token", "error", err)
	}
	if err := m.creds.RemoveRefreshToken(ctx); err != nil {
		m.logger.WarnContext(ctx, "failed to remove previous refresh token", "error", err)
	}
}

// Logout ends the session. The backend is told first while the token is still
// attached; its failure and any storage failure are returned joined, but the
// session always becomes anonymous and the epoch always advances.
func (m *Manager) Logout(ctx context.Context) (sess Session, err error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	ctx, span := m.tracer.Start(ctx, tracer.SpanSessionLogout)
	defer func() { span.End(err) }()

	var errs []error
	if m.remoteLogout && m.auth != nil && m.State() == StateAuthenticated {
		if remoteErr := m.auth.Logout(ctx); remoteErr != nil {
			m.logger.WarnContext(ctx, "remote logout failed, clearing local session anyway", "error", remoteErr)
			errs = append(errs, remoteErr)
		}
	}
	if clearErr := m.creds.Clear(ctx); clearErr != nil {
		m.logger.ErrorContext(ctx, "failed to clear credentials on logout", "error", clearErr)
		errs = append(errs, clearErr)
	}

	sess = m.apply(func(s *Session) {
		s.State = StateAnonymous
		s.IsAuthenticated = false
		s.IsLoading = false
		s.User = nil
	}, true)

	m.metrics.RecordTransition(transitionLogout, sess.Epoch)
	span.AddEvent(tracer.EventEpochBumped, tracer.Int64(tracer.AttrEpoch, int64(sess.Epoch)))
	m.logger.InfoContext(ctx, "session ended", "epoch", sess.Epoch)
	m.notify(sess)
	return sess, errors.Join(errs...)
}

// Register creates an account. Most backends answer with a pending OTP
// verification; if one signs the user in straight away the session is established.
func (m *Manager) Register(ctx context.Context, req auth.RegisterRequest) (*RegisterResult, error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	resp, err := m.auth.Register(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &RegisterResult{
		Email:   resp.Email,
		Message: resp.Message,
	}
	if result.Email == "" {
		result.Email = req.Email
	}
	if resp.Login == nil {
		result.PendingVerification = true
		result.Session = m.Snapshot()
		return result, nil
	}

	ctx, span := m.tracer.Start(ctx, tracer.SpanSessionLogin)
	sess, err := m.establish(ctx, span, resp.Login)
	span.End(err)
	if err != nil {
		return nil, err
	}
	result.Session = sess
	return result, nil
}

// CompleteRegistration verifies the emailed OTP and then logs in.
func (m *Manager) CompleteRegistration(ctx context.Context, otp string, creds auth.Credentials) (Session, error) {
	if _, err := m.auth.VerifyOTP(ctx, auth.VerifyOTPRequest{Email: creds.Email, OTP: otp}); err != nil {
		return m.Snapshot(), err
	}
	return m.Login(ctx, creds)
}

// Refresh exchanges the stored refresh token for a new access token. Refreshing an
// authenticated session keeps its epoch; refreshing from anonymous starts a new one.
func (m *Manager) Refresh(ctx context.Context) (sess Session, err error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	ctx, span := m.tracer.Start(ctx, tracer.SpanSessionRefresh)
	defer func() { span.End(err) }()

	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (Session, error) {
	refreshToken := m.creds.RefreshToken(ctx)
	if refreshToken == "" {
		return m.Snapshot(), dErrors.New(dErrors.CodeSession, "no refresh token available")
	}

	pair, err := m.auth.RefreshToken(ctx, refreshToken)
	if err != nil {
		m.logger.InfoContext(ctx, "token refresh failed", "error", err)
		return m.Snapshot(), err
	}
	if err := m.creds.Set(ctx, pair.Token); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist refreshed token", "error", err)
		return m.Snapshot(), err
	}
	if pair.RefreshToken != "" {
		if err := m.creds.SetRefreshToken(ctx, pair.RefreshToken); err != nil {
			m.logger.WarnContext(ctx, "failed to persist rotated refresh token", "error", err)
		}
	}

	wasAuthenticated := m.State() == StateAuthenticated
	sess := m.apply(func(s *Session) {
		s.State = StateAuthenticated
		s.IsAuthenticated = true
		s.IsLoading = false
	}, !wasAuthenticated)

	m.metrics.RecordTransition(transitionRefresh, sess.Epoch)
	m.logger.InfoContext(ctx, "access token refreshed", "epoch", sess.Epoch)
	if !wasAuthenticated {
		m.notify(sess)
	}
	return sess, nil
}

// EnsureFresh refreshes the access token when it is close to expiry and a refresh
// token is available. It reports whether a refresh happened.
func (m *Manager) EnsureFresh(ctx context.Context) (bool, error) {
	m.transition.Lock()
	defer m.transition.Unlock()

	if !m.creds.IsExpiringSoon(ctx, m.expiryThreshold) {
		return false, nil
	}
	if m.creds.RefreshToken(ctx) == "" {
		return false, nil
	}

	ctx, span := m.tracer.Start(ctx, tracer.SpanSessionRefresh)
	_, err := m.refresh(ctx)
	span.End(err)
	if err != nil {
		return false, err
	}
	return true, nil
}

// apply mutates the session under the state lock and optionally advances the epoch.
func (m *Manager) apply(mutate func(*Session), bump bool) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.current)
	if bump {
		m.current.Epoch++
	}
	return m.current.clone()
}

func (m *Manager) notify(sess Session) {
	m.subsMu.Lock()
	fns := make([]func(Session), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.Unlock()

	for _, fn := range fns {
		fn(sess.clone())
	}
}
