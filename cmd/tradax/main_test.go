package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"tradax/internal/apiclient"
	"tradax/internal/platform/config"
	"tradax/internal/platform/logger"
	"tradax/internal/stub"
	dErrors "tradax/pkg/domain-errors"
)

type CLISuite struct {
	suite.Suite
	backend *stub.Server
	server  *httptest.Server
	cfg     config.Client
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLISuite))
}

func (s *CLISuite) SetupTest() {
	s.backend = stub.New("cli-test-key", 15*time.Minute,
		stub.WithLogger(logger.Discard()),
		stub.WithBcryptCost(bcrypt.MinCost),
		stub.WithOTPGenerator(func() string { return "112233" }),
	)
	s.server = httptest.NewServer(s.backend.Handler())
	s.cfg = config.Client{
		AuthServiceURL:    s.server.URL,
		WalletServiceURL:  s.server.URL,
		RequestTimeout:    5 * time.Second,
		CredentialBackend: config.BackendFile,
		CredentialPath:    filepath.Join(s.T().TempDir(), "credentials.json"),
		RedisKeyPrefix:    "tradax:test:",
		ExpiryThreshold:   time.Minute,
		ValidateOnStart:   true,
		LogLevel:          "error",
	}
	s.Require().NoError(s.backend.SeedUser("ada@example.com", "correct-horse", "Ada", "Lovelace"))
}

func (s *CLISuite) TearDownTest() {
	s.server.Close()
}

// exec runs one invocation and decodes its JSON output.
func (s *CLISuite) exec(stdin string, args ...string) (map[string]any, string, error) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, s.cfg, strings.NewReader(stdin), &stdout, &stderr)
	var out map[string]any
	if stdout.Len() > 0 {
		s.Require().NoError(json.Unmarshal(stdout.Bytes(), &out), stdout.String())
	}
	return out, stderr.String(), err
}

func (s *CLISuite) login() {
	out, _, err := s.exec("", "login", "-email", "ada@example.com", "-password", "correct-horse")
	s.Require().NoError(err)
	s.Require().Equal("authenticated", out["state"])
}

func (s *CLISuite) TestSessionPersistsAcrossInvocations() {
	out, _, err := s.exec("", "login", "-email", "ADA@example.com", "-password", "correct-horse")
	s.Require().NoError(err)
	s.Equal("authenticated", out["state"])
	s.Equal(1.0, out["epoch"])
	user, ok := out["user"].(map[string]any)
	s.Require().True(ok)
	s.Equal("AL", user["initials"])

	out, _, err = s.exec("", "status")
	s.Require().NoError(err)
	s.Equal("authenticated", out["state"])
	s.Equal(true, out["hasRefreshToken"])
	s.Equal("ada@example.com", out["lastEmail"])
	s.NotEmpty(out["expiresAt"])

	out, _, err = s.exec("", "deposit", "-asset", "usd", "-amount", "100")
	s.Require().NoError(err)
	s.Equal("Deposit successful", out["message"])

	out, _, err = s.exec("", "balance")
	s.Require().NoError(err)
	s.Equal(100.0, out["USD"])

	out, _, err = s.exec("", "logout")
	s.Require().NoError(err)
	s.Equal("anonymous", out["state"])

	out, _, err = s.exec("", "status")
	s.Require().NoError(err)
	s.Equal("anonymous", out["state"])
	s.NotContains(out, "expiresAt")

	_, _, err = s.exec("", "balance")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *CLISuite) TestLoginReadsPasswordAndLastEmail() {
	s.login()
	_, _, err := s.exec("", "logout")
	s.Require().NoError(err)

	out, stderr, err := s.exec("correct-horse\n", "login")
	s.Require().NoError(err)
	s.Equal("authenticated", out["state"])
	s.Contains(stderr, "Password: ")
}

func (s *CLISuite) TestRejectedLogin() {
	_, _, err := s.exec("", "login", "-email", "ada@example.com", "-password", "wrong")

	herr, ok := apiclient.AsHTTPError(err)
	s.Require().True(ok, "expected HTTP error, got %v", err)
	s.Equal(http.StatusUnauthorized, herr.StatusCode)

	out, _, err := s.exec("", "status")
	s.Require().NoError(err)
	s.Equal("anonymous", out["state"])
}

func (s *CLISuite) TestRegisterThenVerify() {
	out, _, err := s.exec("", "register",
		"-first", "Grace", "-last", "Hopper", "-email", "grace@example.com", "-password", "cobol123")
	s.Require().NoError(err)
	s.Equal(true, out["pendingVerification"])
	s.Equal("anonymous", out["state"])

	out, _, err = s.exec("", "verify", "-otp", "112233", "-password", "cobol123")
	s.Require().NoError(err)
	s.Equal("authenticated", out["state"])
}

func (s *CLISuite) TestTradeAndReports() {
	s.login()
	_, _, err := s.exec("", "deposit", "-amount", "1000")
	s.Require().NoError(err)

	out, _, err := s.exec("", "trade", "-type", "BUY", "-asset", "eth", "-amount", "0.1", "-price", "3000")
	s.Require().NoError(err)
	s.Equal("Trade executed successfully", out["message"])

	out, _, err = s.exec("", "volume")
	s.Require().NoError(err)
	s.Equal(300.0, out["totalTradingVolume"])

	out, _, err = s.exec("", "history", "-size", "5")
	s.Require().NoError(err)
	s.Equal(2.0, out["totalElements"])

	out, _, err = s.exec("", "portfolio")
	s.Require().NoError(err)
	s.Contains(out, "portfolio")
}

func (s *CLISuite) TestValidationFailsBeforeNetwork() {
	s.login()
	_, _, err := s.exec("", "withdraw", "-amount", "-5")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
	s.Contains(err.Error(), "withdraw:")
}

func (s *CLISuite) TestResetPasswordNeedsOTPOrToken() {
	_, _, err := s.exec("", "reset-password", "-password", "newpass1")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *CLISuite) TestHealth() {
	out, _, err := s.exec("", "health")
	s.Require().NoError(err)
	authStatus, ok := out["auth"].(map[string]any)
	s.Require().True(ok)
	s.Equal("UP", authStatus["status"])
}

func (s *CLISuite) TestUsage() {
	_, stderr, err := s.exec("")
	s.ErrorIs(err, errUsage)
	s.Contains(stderr, "Usage: tradax")

	_, stderr, err = s.exec("", "teleport")
	s.ErrorIs(err, errUsage)
	s.Contains(stderr, `unknown command "teleport"`)
}

func (s *CLISuite) TestUnknownBackend() {
	s.cfg.CredentialBackend = "tape"
	_, _, err := s.exec("", "status")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *CLISuite) TestRedisBackend() {
	mr := miniredis.RunT(s.T())
	s.cfg.CredentialBackend = config.BackendRedis
	s.cfg.RedisURL = "redis://" + mr.Addr()

	s.login()
	s.True(mr.Exists("tradax:test:tradax/auth_token"))

	out, _, err := s.exec("", "status")
	s.Require().NoError(err)
	s.Equal("authenticated", out["state"])
}

func (s *CLISuite) TestRedisBackendRequiresURL() {
	s.cfg.CredentialBackend = config.BackendRedis
	_, _, err := s.exec("", "status")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
