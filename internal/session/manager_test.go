package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tradax/internal/apiclient"
	"tradax/internal/clients/auth"
	"tradax/internal/credential"
	"tradax/internal/platform/metrics"
	"tradax/internal/session/mocks"
	dErrors "tradax/pkg/domain-errors"
	fixture "tradax/pkg/testutil"
)

type ManagerSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	mockAuth  *mocks.MockAuthAPI
	mockCreds *mocks.MockCredentialStore
	metrics   *metrics.Metrics
	manager   *Manager
	notified  []Session
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.mockAuth = mocks.NewMockAuthAPI(s.ctrl)
	s.mockCreds = mocks.NewMockCredentialStore(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.manager = s.newManager()
	s.notified = nil
	s.manager.Subscribe(func(sess Session) {
		s.notified = append(s.notified, sess)
	})
}

func (s *ManagerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ManagerSuite) newManager(opts ...Option) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{WithLogger(logger), WithMetrics(s.metrics)}
	return New(s.mockAuth, s.mockCreds, append(base, opts...)...)
}

var testUser = fixture.NewUser().Build()

func (s *ManagerSuite) creds() auth.Credentials {
	return auth.Credentials{Email: "ada@example.com", Password: "pw"}
}

// login drives the manager into Authenticated with token "t".
func (s *ManagerSuite) login() Session {
	s.mockAuth.EXPECT().Login(gomock.Any(), s.creds()).Return(fixture.LoginResponse("t", testUser), nil)
	s.mockCreds.EXPECT().Set(gomock.Any(), "t").Return(nil)
	s.mockCreds.EXPECT().RemoveRefreshToken(gomock.Any()).Return(nil)
	sess, err := s.manager.Login(s.ctx, s.creds())
	s.Require().NoError(err)
	return sess
}

func (s *ManagerSuite) TestStartsLoading() {
	sess := s.manager.Snapshot()

	s.Equal(StateLoading, sess.State)
	s.True(sess.IsLoading)
	s.Zero(sess.Epoch)
}

func (s *ManagerSuite) TestInit() {
	s.Run("no token becomes anonymous without bumping", func() {
		s.SetupTest()
		s.mockCreds.EXPECT().Token(gomock.Any()).Return("", nil)

		sess, err := s.manager.Init(s.ctx)
		s.Require().NoError(err)

		s.Equal(StateAnonymous, sess.State)
		s.False(sess.IsLoading)
		s.Zero(sess.Epoch)
		s.Empty(s.notified)
	})

	s.Run("valid token becomes authenticated and bumps", func() {
		s.SetupTest()
		s.mockCreds.EXPECT().Token(gomock.Any()).Return("t", nil)
		s.mockCreds.EXPECT().IsValid(gomock.Any()).Return(true)

		sess, err := s.manager.Init(s.ctx)
		s.Require().NoError(err)

		s.Equal(StateAuthenticated, sess.State)
		s.True(sess.IsAuthenticated)
		s.False(sess.IsLoading)
		s.Nil(sess.User)
		s.Equal(uint64(1), sess.Epoch)
		s.Require().Len(s.notified, 1)
		s.Equal(uint64(1), s.notified[0].Epoch)
	})

	s.Run("expired token is discarded", func() {
		s.SetupTest()
		s.mockCreds.EXPECT().Token(gomock.Any()).Return("t", nil)
		s.mockCreds.EXPECT().IsValid(gomock.Any()).Return(false)
		s.mockCreds.EXPECT().Clear(gomock.Any()).Return(nil)

		sess, err := s.manager.Init(s.ctx)
		s.Require().NoError(err)

		s.Equal(StateAnonymous, sess.State)
		s.False(sess.IsLoading)
	})

	s.Run("failure to discard still ends anonymous", func() {
		s.SetupTest()
		s.mockCreds.EXPECT().Token(gomock.Any()).Return("t", nil)
		s.mockCreds.EXPECT().IsValid(gomock.Any()).Return(false)
		s.mockCreds.EXPECT().Clear(gomock.Any()).Return(dErrors.New(dErrors.CodeStorage, "failed"))

		sess, err := s.manager.Init(s.ctx)
		s.Require().NoError(err)

		s.Equal(StateAnonymous, sess.State)
	})

	s.Run("presence is enough when startup validation is off", func() {
		s.SetupTest()
		s.manager = s.newManager(WithValidateOnStart(false))
		s.mockCreds.EXPECT().Token(gomock.Any()).Return("aaa.bbb.ccc", nil)

		sess, err := s.manager.Init(s.ctx)
		s.Require().NoError(err)

		s.Equal(StateAuthenticated, sess.State)
	})

	s.Run("read failure degrades to anonymous", func() {
		s.SetupTest()
		s.mockCreds.EXPECT().Token(gomock.Any()).Return("", dErrors.New(dErrors.CodeStorage, "locked"))

		sess, err := s.manager.Init(s.ctx)
		s.Require().NoError(err)

		s.Equal(StateAnonymous, sess.State)
		s.False(sess.IsLoading)
	})
}

func (s *ManagerSuite) TestLoginSuccess() {
	before := s.manager.Epoch()
	s.mockAuth.EXPECT().Login(gomock.Any(), s.creds()).
		Return(&auth.LoginResponse{Token: "t", RefreshToken: "r", User: testUser}, nil)
	s.mockCreds.EXPECT().Set(gomock.Any(), "t").Return(nil)
	s.mockCreds.EXPECT().SetRefreshToken(gomock.Any(), "r").Return(nil)

	sess, err := s.manager.Login(s.ctx, s.creds())
	s.Require().NoError(err)

	s.Equal(StateAuthenticated, sess.State)
	s.True(sess.IsAuthenticated)
	s.Equal(before+1, sess.Epoch)
	s.Equal(*testUser, *s.manager.User())
	s.Require().Len(s.notified, 1)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SessionTransitions.WithLabelValues(transitionLogin)))
}

func (s *ManagerSuite) TestLoginWithoutRefreshTokenDropsStaleOne() {
	s.login()
	// login() asserts RemoveRefreshToken was called via gomock expectations.
	s.Equal(uint64(1), s.manager.Epoch())
}

func (s *ManagerSuite) TestRefreshTokenPersistFailureDoesNotFailLogin() {
	s.mockAuth.EXPECT().Login(gomock.Any(), s.creds()).
		Return(&auth.LoginResponse{Token: "t", RefreshToken: "r", User: testUser}, nil)
	s.mockCreds.EXPECT().Set(gomock.Any(), "t").Return(nil)
	s.mockCreds.EXPECT().SetRefreshToken(gomock.Any(), "r").Return(dErrors.New(dErrors.CodeStorage, "full"))
	s.mockCreds.EXPECT().RemoveRefreshToken(gomock.Any()).Return(nil)

	sess, err := s.manager.Login(s.ctx, s.creds())
	s.Require().NoError(err)

	s.Equal(StateAuthenticated, sess.State)
}

func (s *ManagerSuite) TestLoginInvalidResponseLeavesStateUnchanged() {
	tests := []struct {
		name string
		resp *auth.LoginResponse
	}{
		{"empty response", &auth.LoginResponse{}},
		{"missing token", &auth.LoginResponse{User: testUser}},
		{"missing user", &auth.LoginResponse{Token: "t"}},
		{"nil response", nil},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			s.login()
			prior := s.manager.Snapshot()

			s.mockAuth.EXPECT().Login(gomock.Any(), s.creds()).Return(tt.resp, nil)

			sess, err := s.manager.Login(s.ctx, s.creds())
			s.Require().Error(err)

			s.True(errors.Is(err, dErrors.ErrSession))
			s.Equal("Invalid login response", err.Error())
			s.Equal(prior, sess)
			s.Equal(prior, s.manager.Snapshot())
		})
	}
}

func (s *ManagerSuite) TestLoginUndecodableReplyIsSessionError() {
	s.login()
	prior := s.manager.Snapshot()
	decodeErr := dErrors.Wrap(errors.New("invalid character 'O'"), dErrors.CodeDecode, "unexpected response format")
	s.mockAuth.EXPECT().Login(gomock.Any(), s.creds()).Return(nil, decodeErr)

	sess, err := s.manager.Login(s.ctx, s.creds())

	s.True(dErrors.HasCode(err, dErrors.CodeSession))
	s.Equal("Invalid login response", err.Error())
	s.ErrorIs(err, decodeErr)
	s.Equal(prior, sess)
	s.Equal(prior, s.manager.Snapshot())
}

func (s *ManagerSuite) TestLoginBackendErrorsPassThroughUnchanged() {
	rejected := &apiclient.HTTPError{StatusCode: http.StatusUnauthorized, Message: "Invalid email or password"}
	s.mockAuth.EXPECT().Login(gomock.Any(), s.creds()).Return(nil, rejected)

	sess, err := s.manager.Login(s.ctx, s.creds())

	s.Same(rejected, err)
	s.Equal(StateLoading, sess.State)
	s.Zero(sess.Epoch)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AuthFailures))
}

func (s *ManagerSuite) TestLoginPersistFailureIsStorageErrorAndNoTransition() {
	s.mockAuth.EXPECT().Login(gomock.Any(), s.creds()).Return(&auth.LoginResponse{Token: "t", User: testUser}, nil)
	s.mockCreds.EXPECT().Set(gomock.Any(), "t").Return(dErrors.New(dErrors.CodeStorage, "failed to store authentication token"))

	sess, err := s.manager.Login(s.ctx, s.creds())

	s.True(errors.Is(err, dErrors.ErrStorage))
	s.Equal(StateLoading, sess.State)
	s.Zero(s.manager.Epoch())
	s.Empty(s.notified)
}

func (s *ManagerSuite) TestEstablish() {
	s.mockCreds.EXPECT().Set(gomock.Any(), "t").Return(nil)
	s.mockCreds.EXPECT().RemoveRefreshToken(gomock.Any()).Return(nil)

	sess, err := s.manager.Establish(s.ctx, &auth.LoginResponse{Token: "t", User: testUser})
	s.Require().NoError(err)

	s.Equal(StateAuthenticated, sess.State)
	s.Equal(uint64(1), sess.Epoch)
}

func (s *ManagerSuite) TestLogout() {
	s.Run("clears and bumps after login", func() {
		s.SetupTest()
		s.login()
		s.mockAuth.EXPECT().Logout(gomock.Any()).Return(nil)
		s.mockCreds.EXPECT().Clear(gomock.Any()).Return(nil)

		sess, err := s.manager.Logout(s.ctx)
		s.Require().NoError(err)

		s.Equal(StateAnonymous, sess.State)
		s.Nil(sess.User)
		s.Equal(uint64(2), sess.Epoch)
		s.Len(s.notified, 2)
	})

	s.Run("storage failure is returned but state still transitions", func() {
		s.SetupTest()
		s.login()
		s.mockAuth.EXPECT().Logout(gomock.Any()).Return(nil)
		s.mockCreds.EXPECT().Clear(gomock.Any()).Return(dErrors.New(dErrors.CodeStorage, "failed to clear authentication data"))

		sess, err := s.manager.Logout(s.ctx)

		s.True(errors.Is(err, dErrors.ErrStorage))
		s.Equal(StateAnonymous, sess.State)
		s.Equal(uint64(2), sess.Epoch)
	})

	s.Run("remote failure is joined and never blocks", func() {
		s.SetupTest()
		s.login()
		netErr := dErrors.Wrap(errors.New("dial tcp: connection refused"), dErrors.CodeNetwork, apiclient.NetworkMessage)
		s.mockAuth.EXPECT().Logout(gomock.Any()).Return(netErr)
		s.mockCreds.EXPECT().Clear(gomock.Any()).Return(nil)

		sess, err := s.manager.Logout(s.ctx)

		s.True(apiclient.IsNetwork(err))
		s.Equal(StateAnonymous, sess.State)
	})

	s.Run("anonymous logout skips the backend and still bumps", func() {
		s.SetupTest()
		s.mockCreds.EXPECT().Clear(gomock.Any()).Return(nil)

		sess, err := s.manager.Logout(s.ctx)
		s.Require().NoError(err)

		s.Equal(StateAnonymous, sess.State)
		s.Equal(uint64(1), sess.Epoch)
	})

	s.Run("remote logout disabled", func() {
		s.SetupTest()
		s.manager = s.newManager(WithRemoteLogout(false))
		s.login()
		s.mockCreds.EXPECT().Clear(gomock.Any()).Return(nil)

		_, err := s.manager.Logout(s.ctx)
		s.Require().NoError(err)
	})
}

func (s *ManagerSuite) TestRegister() {
	req := auth.RegisterRequest{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Password: "secret1"}

	s.Run("pending verification", func() {
		s.SetupTest()
		s.mockAuth.EXPECT().Register(gomock.Any(), req).
			Return(&auth.RegisterResponse{Message: "Please verify your email.", Email: "ada@example.com"}, nil)

		res, err := s.manager.Register(s.ctx, req)
		s.Require().NoError(err)

		s.True(res.PendingVerification)
		s.Equal("ada@example.com", res.Email)
		s.Equal(StateLoading, res.Session.State)
		s.Zero(s.manager.Epoch())
	})

	s.Run("immediate login establishes the session", func() {
		s.SetupTest()
		s.mockAuth.EXPECT().Register(gomock.Any(), req).
			Return(&auth.RegisterResponse{Login: &auth.LoginResponse{Token: "t", User: testUser}}, nil)
		s.mockCreds.EXPECT().Set(gomock.Any(), "t").Return(nil)
		s.mockCreds.EXPECT().RemoveRefreshToken(gomock.Any()).Return(nil)

		res, err := s.manager.Register(s.ctx, req)
		s.Require().NoError(err)

		s.False(res.PendingVerification)
		s.Equal(StateAuthenticated, res.Session.State)
		s.Equal("ada@example.com", res.Email)
	})

	s.Run("backend rejection", func() {
		s.SetupTest()
		conflict := &apiclient.HTTPError{StatusCode: http.StatusBadRequest, Message: "User with this email already exists"}
		s.mockAuth.EXPECT().Register(gomock.Any(), req).Return(nil, conflict)

		_, err := s.manager.Register(s.ctx, req)

		s.Same(conflict, err)
	})
}

func (s *ManagerSuite) TestCompleteRegistration() {
	s.Run("verifies then logs in", func() {
		s.SetupTest()
		gomock.InOrder(
			s.mockAuth.EXPECT().VerifyOTP(gomock.Any(), auth.VerifyOTPRequest{Email: "ada@example.com", OTP: "123456"}).
				Return(&auth.Ack{Message: "Email verified successfully"}, nil),
			s.mockAuth.EXPECT().Login(gomock.Any(), s.creds()).
				Return(&auth.LoginResponse{Token: "t", User: testUser}, nil),
		)
		s.mockCreds.EXPECT().Set(gomock.Any(), "t").Return(nil)
		s.mockCreds.EXPECT().RemoveRefreshToken(gomock.Any()).Return(nil)

		sess, err := s.manager.CompleteRegistration(s.ctx, "123456", s.creds())
		s.Require().NoError(err)

		s.Equal(StateAuthenticated, sess.State)
	})

	s.Run("bad otp never attempts login", func() {
		s.SetupTest()
		bad := &apiclient.HTTPError{StatusCode: http.StatusBadRequest, Message: "Invalid or expired OTP"}
		s.mockAuth.EXPECT().VerifyOTP(gomock.Any(), gomock.Any()).Return(nil, bad)

		_, err := s.manager.CompleteRegistration(s.ctx, "000000", s.creds())

		s.Same(bad, err)
	})
}

func (s *ManagerSuite) TestRefresh() {
	s.Run("authenticated session keeps its epoch", func() {
		s.SetupTest()
		s.login()
		s.mockCreds.EXPECT().RefreshToken(gomock.Any()).Return("r")
		s.mockAuth.EXPECT().RefreshToken(gomock.Any(), "r").Return(&auth.TokenPair{Token: "t2", RefreshToken: "r2"}, nil)
		s.mockCreds.EXPECT().Set(gomock.Any(), "t2").Return(nil)
		s.mockCreds.EXPECT().SetRefreshToken(gomock.Any(), "r2").Return(nil)

		sess, err := s.manager.Refresh(s.ctx)
		s.Require().NoError(err)

		s.Equal(uint64(1), sess.Epoch)
		s.Equal(*testUser, *sess.User)
		s.Len(s.notified, 1)
	})

	s.Run("anonymous session starts a new epoch", func() {
		s.SetupTest()
		s.mockCreds.EXPECT().RefreshToken(gomock.Any()).Return("r")
		s.mockAuth.EXPECT().RefreshToken(gomock.Any(), "r").Return(&auth.TokenPair{Token: "t2"}, nil)
		s.mockCreds.EXPECT().Set(gomock.Any(), "t2").Return(nil)

		sess, err := s.manager.Refresh(s.ctx)
		s.Require().NoError(err)

		s.Equal(StateAuthenticated, sess.State)
		s.Equal(uint64(1), sess.Epoch)
		s.Len(s.notified, 1)
	})

	s.Run("no refresh token", func() {
		s.SetupTest()
		s.mockCreds.EXPECT().RefreshToken(gomock.Any()).Return("")

		_, err := s.manager.Refresh(s.ctx)

		s.True(dErrors.HasCode(err, dErrors.CodeSession))
	})

	s.Run("rejected refresh leaves state alone", func() {
		s.SetupTest()
		s.login()
		expired := &apiclient.HTTPError{StatusCode: http.StatusUnauthorized, Message: "Refresh token expired"}
		s.mockCreds.EXPECT().RefreshToken(gomock.Any()).Return("r")
		s.mockAuth.EXPECT().RefreshToken(gomock.Any(), "r").Return(nil, expired)

		sess, err := s.manager.Refresh(s.ctx)

		s.Same(expired, err)
		s.Equal(StateAuthenticated, sess.State)
	})
}

func (s *ManagerSuite) TestEnsureFresh() {
	s.Run("not expiring", func() {
		s.SetupTest()
		s.mockCreds.EXPECT().IsExpiringSoon(gomock.Any(), credential.DefaultExpiryThreshold).Return(false)

		refreshed, err := s.manager.EnsureFresh(s.ctx)
		s.Require().NoError(err)
		s.False(refreshed)
	})

	s.Run("expiring without refresh token", func() {
		s.SetupTest()
		s.mockCreds.EXPECT().IsExpiringSoon(gomock.Any(), gomock.Any()).Return(true)
		s.mockCreds.EXPECT().RefreshToken(gomock.Any()).Return("")

		refreshed, err := s.manager.EnsureFresh(s.ctx)
		s.Require().NoError(err)
		s.False(refreshed)
	})

	s.Run("expiring with refresh token", func() {
		s.SetupTest()
		s.manager = s.newManager(WithExpiryThreshold(time.Minute))
		s.mockCreds.EXPECT().IsExpiringSoon(gomock.Any(), time.Minute).Return(true)
		s.mockCreds.EXPECT().RefreshToken(gomock.Any()).Return("r").Times(2)
		s.mockAuth.EXPECT().RefreshToken(gomock.Any(), "r").Return(&auth.TokenPair{Token: "t2"}, nil)
		s.mockCreds.EXPECT().Set(gomock.Any(), "t2").Return(nil)

		refreshed, err := s.manager.EnsureFresh(s.ctx)
		s.Require().NoError(err)
		s.True(refreshed)
	})
}

func (s *ManagerSuite) TestSubscribeCancel() {
	var calls int
	cancel := s.manager.Subscribe(func(Session) { calls++ })
	s.mockCreds.EXPECT().Clear(gomock.Any()).Return(nil).Times(2)

	_, _ = s.manager.Logout(s.ctx)
	cancel()
	cancel()
	_, _ = s.manager.Logout(s.ctx)

	s.Equal(1, calls)
	s.Len(s.notified, 2)
}

func (s *ManagerSuite) TestSnapshotIsACopy() {
	s.login()

	snap := s.manager.Snapshot()
	snap.User.Email = "mallory@example.com"

	s.Equal("ada@example.com", s.manager.User().Email)
}

func (s *ManagerSuite) TestStateString() {
	s.Equal("loading", StateLoading.String())
	s.Equal("anonymous", StateAnonymous.String())
	s.Equal("authenticated", StateAuthenticated.String())
	s.Equal("unknown", State(42).String())
}

// Concurrent logins and logouts are serialized: every one of them advances the
// epoch exactly once and subscribers observe a strictly increasing sequence.
func TestConcurrentTransitionsAreSerialized(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAuth := mocks.NewMockAuthAPI(ctrl)
	mockAuth.EXPECT().Login(gomock.Any(), gomock.Any()).
		Return(&auth.LoginResponse{Token: "t", User: testUser}, nil).AnyTimes()
	mockAuth.EXPECT().Logout(gomock.Any()).Return(nil).AnyTimes()

	store := credential.New(credential.NewMemory(), credential.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	m := New(mockAuth, store, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	var mu sync.Mutex
	var seen []uint64
	m.Subscribe(func(sess Session) {
		mu.Lock()
		seen = append(seen, sess.Epoch)
		mu.Unlock()
	})

	const goroutines = 40
	result := fixture.RunConcurrent(goroutines, func(idx int) error {
		if idx%2 == 0 {
			_, err := m.Login(context.Background(), auth.Credentials{Email: "ada@example.com", Password: "pw"})
			return err
		}
		_, err := m.Logout(context.Background())
		return err
	})

	if result.Successes != goroutines {
		t.Fatalf("expected all %d transitions to succeed, got %+v", goroutines, result)
	}
	if got := m.Epoch(); got != goroutines {
		t.Fatalf("expected epoch %d, got %d", goroutines, got)
	}
	if len(seen) != goroutines || !sort.SliceIsSorted(seen, func(i, j int) bool { return seen[i] < seen[j] }) {
		t.Fatalf("subscribers saw epochs out of order: %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] == seen[i-1] {
			t.Fatalf("duplicate epoch %d", seen[i])
		}
	}
}

func TestInitValidatesPersistedJWT(t *testing.T) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	for name, tc := range map[string]struct {
		exp  time.Time
		want State
	}{
		"valid":             {exp: fixture.FixedNow.Add(time.Hour), want: StateAuthenticated},
		"expired":           {exp: fixture.FixedNow.Add(-time.Minute), want: StateAnonymous},
		"expires right now": {exp: fixture.FixedNow, want: StateAnonymous},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := credential.New(credential.NewMemory(),
				credential.WithLogger(discard),
				credential.WithClock(func() time.Time { return fixture.FixedNow }),
			)
			require.NoError(t, store.Set(ctx, fixture.TokenExpiringAt("ada@example.com", tc.exp)))

			m := New(nil, store, WithLogger(discard), WithValidateOnStart(true))
			sess, err := m.Init(ctx)
			require.NoError(t, err)
			require.Equal(t, tc.want, sess.State)
			if tc.want == StateAnonymous {
				require.Empty(t, store.Get(ctx))
			}
		})
	}
}
