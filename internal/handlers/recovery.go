// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lunahealth/recovery/internal/services/recovery"
)

// Response bodies across all failure branches of one endpoint stay
// identical regardless of the internal cause; only the logs distinguish
// them.

// RequestOTPRequest is the request body for starting the OTP flow.
type RequestOTPRequest struct {
	Email string `json:"email"`
}

// RequestOTP issues a one-time code. The response never reveals whether an
// account exists for the email.
func (h *Handlers) RequestOTP(c echo.Context) error {
	var req RequestOTPRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if !validEmailShape(req.Email) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Valid email is required"})
	}

	if err := h.recovery.IssueOTP(c.Request().Context(), req.Email); err != nil {
		slog.Error("failed to issue otp", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to generate OTP"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "If the email exists, an OTP has been sent"})
}

// VerifyOTPRequest is the request body for verifying a one-time code.
type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// VerifyOTP checks the submitted code and returns the reset token for the
// password update step.
func (h *Handlers) VerifyOTP(c echo.Context) error {
	var req VerifyOTPRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if req.Email == "" || req.OTP == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Email and OTP are required"})
	}

	resetToken, err := h.recovery.VerifyOTP(c.Request().Context(), req.Email, req.OTP)
	if err != nil {
		if errors.Is(err, recovery.ErrInvalidOrExpired) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid or expired OTP"})
		}
		slog.Error("failed to verify otp", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to verify OTP"})
	}

	return c.JSON(http.StatusOK, map[string]string{"resetToken": resetToken})
}

// UpdatePasswordRequest is the request body for committing a new password
// in the OTP flow.
type UpdatePasswordRequest struct {
	Email       string `json:"email"`
	ResetToken  string `json:"resetToken"`
	NewPassword string `json:"newPassword"`
}

// UpdatePassword consumes a verified reset token and commits the new
// password.
func (h *Handlers) UpdatePassword(c echo.Context) error {
	var req UpdatePasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if req.Email == "" || req.ResetToken == "" || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Email, reset token, and new password are required"})
	}

	err := h.recovery.CommitOTP(c.Request().Context(), req.Email, req.ResetToken, req.NewPassword)
	if err != nil {
		return h.commitError(c, err, "Invalid or expired reset token. Please start over.")
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

// SendResetLinkRequest is the request body for starting the link flow.
type SendResetLinkRequest struct {
	Email       string `json:"email"`
	RedirectURL string `json:"redirectUrl"`
}

// SendResetLink issues a reset link pointing at the caller's redirect URL.
func (h *Handlers) SendResetLink(c echo.Context) error {
	var req SendResetLinkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if !validEmailShape(req.Email) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Valid email is required"})
	}

	if req.RedirectURL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Redirect URL is required"})
	}

	if err := h.recovery.IssueLink(c.Request().Context(), req.Email, req.RedirectURL); err != nil {
		slog.Error("failed to issue reset link", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to send reset email"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "If the email exists, a reset link has been sent"})
}

// ResetPasswordRequest is the request body for the link flow. Without a
// newPassword the call only validates the token; with one it commits the
// new password and consumes the token.
type ResetPasswordRequest struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword validates a reset link token, or commits a new password
// when one is supplied.
func (h *Handlers) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if req.Email == "" || req.Token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Email and token are required"})
	}

	ctx := c.Request().Context()

	if req.NewPassword == "" {
		if err := h.recovery.ValidateLink(ctx, req.Email, req.Token); err != nil {
			if errors.Is(err, recovery.ErrInvalidOrExpired) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid or expired reset link"})
			}
			slog.Error("failed to validate reset link", "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to validate reset link"})
		}

		return c.JSON(http.StatusOK, map[string]any{"valid": true, "message": "Token is valid"})
	}

	if err := h.recovery.CommitLink(ctx, req.Email, req.Token, req.NewPassword); err != nil {
		return h.commitError(c, err, "Invalid or expired reset link")
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Password has been reset successfully"})
}

// commitError maps password-commit failures to responses, with the
// per-endpoint generic wording for invalid credentials.
func (h *Handlers) commitError(c echo.Context, err error, invalidMessage string) error {
	switch {
	case errors.Is(err, recovery.ErrWeakPassword):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Password must be at least 6 characters"})
	case errors.Is(err, recovery.ErrInvalidOrExpired):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": invalidMessage})
	case errors.Is(err, recovery.ErrAccountNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "User not found"})
	default:
		slog.Error("failed to update password", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update password"})
	}
}

// validEmailShape is a minimal shape check; full validation is not this
// service's job.
func validEmailShape(email string) bool {
	return email != "" && strings.Contains(email, "@")
}
