// Package auth is the typed facade over the auth service endpoints.
//
// Payloads are normalized and validated locally before anything is sent; a
// validation failure never reaches the network. HTTP and network errors from the
// API client are returned unchanged.
package auth

import (
	"context"

	"tradax/internal/apiclient"
	dErrors "tradax/pkg/domain-errors"
	"tradax/pkg/validation"
)

const (
	pathHealth         = "/auth/health"
	pathRegister       = "/auth/register"
	pathLogin          = "/auth/login"
	pathVerifyOTP      = "/auth/verify-otp"
	pathResendOTP      = "/auth/resend-otp"
	pathForgotPassword = "/auth/forgot-password"
	pathResetPassword  = "/auth/reset-password"
	pathRefresh        = "/auth/refresh"
	pathLogout         = "/auth/logout"
	pathProfile        = "/auth/profile"
)

// Client calls the auth service through an authenticated API client.
type Client struct {
	api *apiclient.Client
}

func New(api *apiclient.Client) *Client {
	return &Client{api: api}
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	resp, err := c.api.Get(ctx, pathHealth)
	if err != nil {
		return nil, err
	}
	var out HealthStatus
	if !resp.IsJSON() {
		out.Status = resp.Text()
		return &out, nil
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account. The backend usually answers with a pending
// verification; when it signs the user in directly, RegisterResponse.Login is set.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	req.Normalize()
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	resp, err := c.api.Post(ctx, pathRegister, req)
	if err != nil {
		return nil, err
	}
	var payload authPayload
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	out := &RegisterResponse{
		Message:  payload.Message,
		UserID:   payload.UserID,
		Email:    payload.Email,
		Initials: payload.Initials,
	}
	if payload.Token != "" {
		out.Login = payload.login()
	}
	return out, nil
}

// Login exchanges credentials for a token. The returned response may lack a token
// or a user if the backend misbehaves; the session layer decides what that means.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	creds.Normalize()
	if err := validation.Validate(creds); err != nil {
		return nil, err
	}
	resp, err := c.api.Post(ctx, pathLogin, creds)
	if err != nil {
		return nil, err
	}
	var payload authPayload
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	return payload.login(), nil
}

func (c *Client) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*Ack, error) {
	req.Normalize()
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	return c.postAck(ctx, pathVerifyOTP, req)
}

func (c *Client) ResendOTP(ctx context.Context, email string) (*Ack, error) {
	req := emailRequest{Email: normalizeEmail(email)}
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	return c.postAck(ctx, pathResendOTP, req)
}

// ForgotPassword asks the backend to mail a password reset OTP.
func (c *Client) ForgotPassword(ctx context.Context, email string) (*Ack, error) {
	req := emailRequest{Email: normalizeEmail(email)}
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	return c.postAck(ctx, pathForgotPassword, req)
}

func (c *Client) ResetPassword(ctx context.Context, req ResetPasswordRequest) (*Ack, error) {
	req.Normalize()
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	return c.postAck(ctx, pathResetPassword, req)
}

func (c *Client) ResetPasswordWithToken(ctx context.Context, req TokenResetRequest) (*Ack, error) {
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	return c.postAck(ctx, pathResetPassword, req)
}

// RefreshToken trades a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	req := refreshRequest{RefreshToken: refreshToken}
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	resp, err := c.api.Post(ctx, pathRefresh, req)
	if err != nil {
		return nil, err
	}
	var out TokenPair
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, dErrors.New(dErrors.CodeSession, "invalid refresh response")
	}
	return &out, nil
}

// Logout tells the backend the current token is done with.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.api.Post(ctx, pathLogout, nil)
	return err
}

func (c *Client) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*UserProfile, error) {
	req.Normalize()
	if err := validation.Validate(req); err != nil {
		return nil, err
	}
	resp, err := c.api.Put(ctx, pathProfile, req)
	if err != nil {
		return nil, err
	}
	var payload authPayload
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	user := payload.profile()
	if user == nil {
		return nil, dErrors.New(dErrors.CodeDecode, "profile missing from response")
	}
	return user, nil
}

func (c *Client) postAck(ctx context.Context, path string, body any) (*Ack, error) {
	resp, err := c.api.Post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	var out Ack
	if !resp.IsJSON() {
		out.Message = resp.Text()
		return &out, nil
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
