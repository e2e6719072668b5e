package stub

import (
	"net/http"

	dErrors "tradax/pkg/domain-errors"
	"tradax/pkg/platform/httputil"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[registerRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	reg, err := s.state.register(req)
	if err != nil {
		s.logger.WarnContext(ctx, "registration failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	s.logger.InfoContext(ctx, "verification code issued",
		"email", reg.email,
		"otp", reg.otp,
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"message":  "User registered successfully. Please verify your email.",
		"userId":   reg.id,
		"email":    reg.email,
		"initials": reg.initials,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[loginRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	user, err := s.state.authenticate(req.Email, req.Password)
	if err != nil {
		s.logger.WarnContext(ctx, "login rejected", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	token, err := s.issuer.Issue(user.Email)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue token", "error", err, "request_id", requestID)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token"))
		return
	}

	resp := map[string]any{
		"token":     token,
		"message":   "Login successful",
		"email":     user.Email,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"initials":  user.Initials,
	}
	if s.refreshTokens {
		resp["refreshToken"] = s.state.newRefreshToken(user.Email)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[otpRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := s.state.verifyOTP(req.Email, req.OTP); err != nil {
		httputil.WriteJSON(w, httputil.DomainCodeToHTTPStatus(dErrors.CodeOf(err)), map[string]any{
			"error":    err.Error(),
			"verified": false,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message":  "Email verified successfully",
		"verified": true,
	})
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[emailRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	otp, err := s.state.resendOTP(req.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.logger.InfoContext(ctx, "verification code issued", "email", req.Email, "otp", otp, "request_id", requestID)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "OTP sent successfully"})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[emailRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	otp, resetToken, err := s.state.forgotPassword(req.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	s.logger.InfoContext(ctx, "password reset issued",
		"email", req.Email,
		"otp", otp,
		"reset_token", resetToken,
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password reset OTP sent to your email"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[resetPasswordRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := s.state.resetPassword(req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password reset successful"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[refreshRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	email, rotated, err := s.state.rotateRefreshToken(req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := s.issuer.Issue(email)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue token", "error", err, "request_id", requestID)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"token":        token,
		"refreshToken": rotated,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.state.revoke(tokenFrom(ctx), emailFrom(ctx))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestIDFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[profileRequest](w, r, s.logger, ctx, requestID)
	if !ok {
		return
	}

	user, err := s.state.updateProfile(emailFrom(ctx), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"user":    user,
	})
}
