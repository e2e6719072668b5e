package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tradax/internal/clients/auth"
	s "tradax/pkg/string"
)

// TestSigningKey signs fixture tokens. Clients never verify signatures.
const TestSigningKey = "test-signing-key"

// FixedNow is a stable reference time for expiry tests.
var FixedNow = time.Unix(1_750_000_000, 0)

// TokenExpiringAt returns an HS256 JWT for email whose exp claim is exp.
func TokenExpiringAt(email string, exp time.Time) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": email,
		"iat": exp.Add(-time.Hour).Unix(),
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte(TestSigningKey))
	if err != nil {
		panic(err)
	}
	return signed
}

// UserBuilder provides a fluent interface for building test user profiles.
type UserBuilder struct {
	user *auth.UserProfile
}

// NewUser creates a builder with sensible defaults.
func NewUser() *UserBuilder {
	return &UserBuilder{user: &auth.UserProfile{
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Initials:  "AL",
	}}
}

func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.user.Email = email
	return b
}

func (b *UserBuilder) WithName(first, last string) *UserBuilder {
	b.user.FirstName = first
	b.user.LastName = last
	b.user.Initials = s.Initials(first, last)
	return b
}

func (b *UserBuilder) Build() *auth.UserProfile {
	u := *b.user
	return &u
}

// LoginResponse builds a complete login reply for user with the given token.
func LoginResponse(token string, user *auth.UserProfile) *auth.LoginResponse {
	return &auth.LoginResponse{Token: token, User: user}
}
