package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestMessageFallsBackToCode() {
	s.Equal("refresh token missing", New(CodeSession, "refresh token missing").Error())
	s.Equal("storage", (&Error{Code: CodeStorage}).Error())
}

func (s *DomainErrorsSuite) TestIsComparesCodes() {
	cases := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same code, different message", New(CodeNetwork, "offline"), New(CodeNetwork, "dns failure"), true},
		{"different code", New(CodeNetwork, "offline"), ErrSession, false},
		{"plain target", New(CodeDecode, "bad json"), errors.New("bad json"), false},
		{"sentinel through fmt wrap", fmt.Errorf("refresh: %w", New(CodeStorage, "keychain locked")), ErrStorage, true},
		{
			"inner code reachable through outer",
			&Error{Code: CodeInternal, Err: New(CodeValidation, "amount must be positive")},
			ErrValidation,
			true,
		},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.Equal(tc.want, errors.Is(tc.err, tc.target))
		})
	}
}

func (s *DomainErrorsSuite) TestWrap() {
	s.Run("keeps the code of a wrapped domain error", func() {
		cause := New(CodeUnauthorized, "token rejected")
		err := Wrap(cause, CodeStorage, "load credentials")

		s.Equal(CodeUnauthorized, CodeOf(err))
		s.Equal("load credentials", err.Error())
		s.ErrorIs(err, cause)
	})

	s.Run("assigns the code to a plain cause", func() {
		cause := errors.New("open credentials.json: permission denied")
		err := Wrap(cause, CodeStorage, "persist token")

		s.Equal(CodeStorage, CodeOf(err))
		s.ErrorIs(err, ErrStorage)
		s.Same(cause, errors.Unwrap(err))
	})
}

func (s *DomainErrorsSuite) TestHasCode() {
	s.True(HasCode(fmt.Errorf("login: %w", New(CodeSession, "invalid login response")), CodeSession))
	s.False(HasCode(New(CodeSession, "invalid login response"), CodeDecode))
	s.False(HasCode(errors.New("connection reset"), CodeNetwork))
	s.False(HasCode(nil, CodeNetwork))
}

func (s *DomainErrorsSuite) TestCodeOf() {
	s.Equal(CodeTimeout, CodeOf(New(CodeTimeout, "deadline exceeded")))
	s.Equal(CodeInternal, CodeOf(errors.New("boom")))
	s.Equal(CodeInternal, CodeOf(nil))
}
