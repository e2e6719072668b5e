package auth

import (
	"bytes"
	"encoding/json"
	"strings"

	s "tradax/pkg/string"
)

// Request payloads. Field names match the auth service wire format.

type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

func (r *Credentials) Normalize() {
	if r == nil {
		return
	}
	r.Email = normalizeEmail(r.Email)
}

type RegisterRequest struct {
	FirstName       string `json:"firstName" validate:"required,notblank,max=100"`
	LastName        string `json:"lastName" validate:"required,notblank,max=100"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min=6,max=128"`
	ConfirmPassword string `json:"-" validate:"omitempty,eqfield=Password"`
}

func (r *RegisterRequest) Normalize() {
	if r == nil {
		return
	}
	s.TrimStrings(&r.FirstName, &r.LastName)
	r.Email = normalizeEmail(r.Email)
}

type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

func (r *VerifyOTPRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = normalizeEmail(r.Email)
	r.OTP = strings.TrimSpace(r.OTP)
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// ResetPasswordRequest resets a password with the OTP mailed by ForgotPassword.
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	OTP         string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=128"`
}

func (r *ResetPasswordRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = normalizeEmail(r.Email)
	r.OTP = strings.TrimSpace(r.OTP)
}

// TokenResetRequest resets a password with a reset-link token.
type TokenResetRequest struct {
	Token    string `json:"token" validate:"required,notblank"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,notblank"`
}

type UpdateProfileRequest struct {
	FirstName string `json:"firstName,omitempty" validate:"required_without=LastName,max=100"`
	LastName  string `json:"lastName,omitempty" validate:"required_without=FirstName,max=100"`
}

func (r *UpdateProfileRequest) Normalize() {
	if r == nil {
		return
	}
	s.TrimStrings(&r.FirstName, &r.LastName)
}

// UserProfile is the signed-in user as shown in the app. It lives in memory only.
type UserProfile struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Initials  string `json:"initials"`
}

// LoginResponse is the normalized result of a successful authentication.
type LoginResponse struct {
	Token        string
	RefreshToken string
	User         *UserProfile
}

// TokenPair is returned by the refresh endpoint. RefreshToken is set only when rotated.
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// RegisterResponse describes a created account. Login is non-nil only when the
// backend signed the user in straight away instead of asking for an OTP.
type RegisterResponse struct {
	Message  string
	UserID   ID
	Email    string
	Initials string
	Login    *LoginResponse
}

// Ack is the generic {"message": "..."} reply.
type Ack struct {
	Message  string `json:"message"`
	Verified *bool  `json:"verified,omitempty"`
}

type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ID accepts both numeric and string identifiers.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*id = ID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// authPayload covers every success shape the auth service produces: the flat login
// reply, the registration reply, and a nested {"user": {...}} variant.
type authPayload struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	Message      string       `json:"message"`
	UserID       ID           `json:"userId"`
	Email        string       `json:"email"`
	FirstName    string       `json:"firstName"`
	LastName     string       `json:"lastName"`
	Initials     string       `json:"initials"`
	User         *UserProfile `json:"user"`
}

// profile returns the user carried by the payload, or nil when it has none.
func (p *authPayload) profile() *UserProfile {
	if p.User != nil {
		u := *p.User
		if u.Initials == "" {
			u.Initials = s.Initials(u.FirstName, u.LastName)
		}
		return &u
	}
	if p.Email == "" {
		return nil
	}
	initials := p.Initials
	if initials == "" {
		initials = s.Initials(p.FirstName, p.LastName)
	}
	return &UserProfile{
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Initials:  initials,
	}
}

func (p *authPayload) login() *LoginResponse {
	return &LoginResponse{
		Token:        p.Token,
		RefreshToken: p.RefreshToken,
		User:         p.profile(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
