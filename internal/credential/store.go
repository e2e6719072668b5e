// Package credential persists the bearer and refresh tokens that survive process
// restarts, and answers expiry questions about the stored access token.
//
// Reads never fail from the caller's point of view: a storage glitch degrades to
// "no token". Writes and deletes do fail, with a storage-coded domain error, because
// losing the ability to persist a token must not be mistaken for being logged out.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"tradax/internal/platform/metrics"
	dErrors "tradax/pkg/domain-errors"
)

// Stable storage keys.
const (
	KeyAccessToken  = "tradax/auth_token"
	KeyRefreshToken = "tradax/refresh_token"
	KeyPreferences  = "tradax/user_preferences"
)

// DefaultExpiryThreshold is the window used by IsExpiringSoon when none is given.
const DefaultExpiryThreshold = 5 * time.Minute

type Store struct {
	backend Backend
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
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

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Set persists the access token.
func (s *Store) Set(ctx context.Context, token string) error {
	if token == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "authentication token must not be empty")
	}
	return s.put(ctx, "set_token", KeyAccessToken, token, "failed to store authentication token")
}

// Get returns the access token, or "" when none is stored or the read failed.
func (s *Store) Get(ctx context.Context) string {
	token, err := s.Token(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "credential read failed, treating session as anonymous", "error", err)
		return ""
	}
	return token
}

// Token is Get with the read failure exposed, for callers that want to log it.
// A missing token is ("", nil).
func (s *Store) Token(ctx context.Context) (string, error) {
	return s.read(ctx, "get_token", KeyAccessToken, "failed to read authentication token")
}

// Remove deletes the access token.
func (s *Store) Remove(ctx context.Context) error {
	return s.delete(ctx, "remove_token", KeyAccessToken, "failed to remove authentication token")
}

func (s *Store) SetRefreshToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "refresh token must not be empty")
	}
	return s.put(ctx, "set_refresh_token", KeyRefreshToken, refreshToken, "failed to store refresh token")
}

// RefreshToken returns the refresh token, or "" when none is stored or the read failed.
func (s *Store) RefreshToken(ctx context.Context) string {
	token, err := s.read(ctx, "get_refresh_token", KeyRefreshToken, "failed to read refresh token")
	if err != nil {
		s.logger.WarnContext(ctx, "refresh token read failed", "error", err)
		return ""
	}
	return token
}

func (s *Store) RemoveRefreshToken(ctx context.Context) error {
	return s.delete(ctx, "remove_refresh_token", KeyRefreshToken, "failed to remove refresh token")
}

// Clear removes every credential key. Each removal is attempted even when an
// earlier one fails; the failures are joined under a single storage error.
// User preferences are not credentials and survive Clear.
func (s *Store) Clear(ctx context.Context) error {
	err := errors.Join(
		s.Remove(ctx),
		s.RemoveRefreshToken(ctx),
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "failed to clear authentication data")
	}
	return nil
}

// SetPreferences stores v as JSON.
func (s *Store) SetPreferences(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "failed to encode user preferences")
	}
	return s.put(ctx, "set_preferences", KeyPreferences, string(data), "failed to store user preferences")
}

// Preferences decodes stored preferences into into. It reports false when
// nothing is stored or the stored value cannot be read or decoded.
func (s *Store) Preferences(ctx context.Context, into any) bool {
	raw, err := s.read(ctx, "get_preferences", KeyPreferences, "failed to read user preferences")
	if err != nil {
		s.logger.WarnContext(ctx, "preferences read failed", "error", err)
		return false
	}
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		s.logger.WarnContext(ctx, "stored preferences are not valid JSON", "error", err)
		return false
	}
	return true
}

func (s *Store) RemovePreferences(ctx context.Context) error {
	return s.delete(ctx, "remove_preferences", KeyPreferences, "failed to remove user preferences")
}

// Expiration returns the exp claim of the stored access token.
func (s *Store) Expiration(ctx context.Context) (time.Time, bool) {
	token := s.Get(ctx)
	if token == "" {
		return time.Time{}, false
	}
	return Expiry(token)
}

// IsValid reports whether a stored access token exists and has not expired.
func (s *Store) IsValid(ctx context.Context) bool {
	token := s.Get(ctx)
	if token == "" {
		return false
	}
	return Valid(token, s.now())
}

// IsExpiringSoon reports whether the stored access token expires within
// threshold, or whether its expiry cannot be determined at all.
// A non-positive threshold means DefaultExpiryThreshold.
func (s *Store) IsExpiringSoon(ctx context.Context, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultExpiryThreshold
	}
	return ExpiringSoon(s.Get(ctx), s.now(), threshold)
}

func (s *Store) read(ctx context.Context, op, key, msg string) (string, error) {
	v, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		s.metrics.IncrementStorageErrors(op)
		return "", dErrors.Wrap(err, dErrors.CodeStorage, msg)
	}
	return v, nil
}

func (s *Store) put(ctx context.Context, op, key, value, msg string) error {
	if err := s.backend.Put(ctx, key, value); err != nil {
		s.metrics.IncrementStorageErrors(op)
		s.logger.ErrorContext(ctx, msg, "error", err)
		return dErrors.Wrap(err, dErrors.CodeStorage, msg)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, op, key, msg string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.metrics.IncrementStorageErrors(op)
		s.logger.ErrorContext(ctx, msg, "error", err)
		return dErrors.Wrap(err, dErrors.CodeStorage, msg)
	}
	return nil
}
