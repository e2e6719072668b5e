package stub

import (
	"strings"

	"tradax/pkg/validation"
)

// Request payloads accepted by the stub. Validation is deliberately looser than
// the client facades so tests can exercise server-side rejections.

type registerRequest struct {
	FirstName string `json:"firstName" validate:"required,notblank"`
	LastName  string `json:"lastName" validate:"required,notblank"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
}

func (r *registerRequest) Normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = normalizeEmail(r.Email)
}

func (r *registerRequest) Validate() error { return validation.Validate(r) }

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (r *loginRequest) Normalize() { r.Email = normalizeEmail(r.Email) }

func (r *loginRequest) Validate() error { return validation.Validate(r) }

type otpRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required"`
}

func (r *otpRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
	r.OTP = strings.TrimSpace(r.OTP)
}

func (r *otpRequest) Validate() error { return validation.Validate(r) }

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (r *emailRequest) Normalize() { r.Email = normalizeEmail(r.Email) }

func (r *emailRequest) Validate() error { return validation.Validate(r) }

// resetPasswordRequest carries either {email, otp, newPassword} or {token, password}.
type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword" validate:"required_without=Password"`
	Token       string `json:"token"`
	Password    string `json:"password" validate:"required_without=NewPassword"`
}

func (r *resetPasswordRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
	r.OTP = strings.TrimSpace(r.OTP)
	r.Token = strings.TrimSpace(r.Token)
}

func (r *resetPasswordRequest) Validate() error { return validation.Validate(r) }

func (r *resetPasswordRequest) withToken() bool { return r.Token != "" }

func (r *resetPasswordRequest) password() string {
	if r.withToken() {
		return r.Password
	}
	return r.NewPassword
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (r *refreshRequest) Validate() error { return validation.Validate(r) }

type profileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (r *profileRequest) Normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

type assetRequest struct {
	Asset  string  `json:"asset" validate:"required,notblank"`
	Amount float64 `json:"amount" validate:"gt=0"`
}

func (r *assetRequest) Normalize() { r.Asset = strings.ToUpper(strings.TrimSpace(r.Asset)) }

func (r *assetRequest) Validate() error { return validation.Validate(r) }

type tradeRequest struct {
	Type   string  `json:"type" validate:"required,oneof=buy sell"`
	Asset  string  `json:"asset" validate:"required,notblank"`
	Amount float64 `json:"amount" validate:"gt=0"`
	Price  float64 `json:"price" validate:"gt=0"`
}

func (r *tradeRequest) Normalize() {
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	r.Asset = strings.ToUpper(strings.TrimSpace(r.Asset))
}

func (r *tradeRequest) Validate() error { return validation.Validate(r) }

// Wire views.

type userView struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Initials  string `json:"initials"`
}

type holdingView struct {
	Asset   string  `json:"asset"`
	Balance float64 `json:"balance"`
	Price   float64 `json:"price"`
}

type transactionView struct {
	ID               int64   `json:"id"`
	Type             string  `json:"type"`
	Asset            string  `json:"asset"`
	Amount           float64 `json:"amount"`
	Price            float64 `json:"price,omitempty"`
	TransactionValue float64 `json:"transactionValue"`
	Status           string  `json:"status"`
	TransactionHash  string  `json:"transactionHash"`
	Description      string  `json:"description,omitempty"`
	CreatedAt        string  `json:"createdAt"`
	CompletedAt      string  `json:"completedAt"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
