package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"marketplace-gateway/internal/config"
	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/otp"
	"marketplace-gateway/internal/util"
)

// OTPService is the issuance/verification contract the handler consumes.
type OTPService interface {
	Issue(ctx context.Context, email string, tokenType model.TokenType) error
	Verify(ctx context.Context, email, token string, tokenType model.TokenType) (*otp.VerifiedToken, error)
}

// RateLimiter is the throttling contract the handler consumes.
type RateLimiter interface {
	CheckAndRecord(ctx context.Context, identifier string, action model.ActionType, maxAttempts int, window time.Duration) (*model.Decision, error)
}

// PasswordAdmin covers the privileged account operations behind the
// reset-password endpoint.
type PasswordAdmin interface {
	AdminUpdatePasswordByEmail(ctx context.Context, email, newPassword string) error
}

// AuthHandler serves the public /auth surface.
type AuthHandler struct {
	otpService OTPService
	limiter    RateLimiter
	passwords  PasswordAdmin
	limits     config.RateLimitConfig
	logger     *zap.Logger
}

func NewAuthHandler(otpService OTPService, limiter RateLimiter, passwords PasswordAdmin, limits config.RateLimitConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		otpService: otpService,
		limiter:    limiter,
		passwords:  passwords,
		limits:     limits,
		logger:     logger,
	}
}

type sendEmailRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
	Type  string `json:"type"`
}

type rateLimitRequest struct {
	Identifier     string `json:"identifier"`
	ActionType     string `json:"actionType"`
	MaxAttempts    *int   `json:"maxAttempts,omitempty"`
	WindowDuration *int64 `json:"windowDuration,omitempty"` // milliseconds
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
}

// SendVerificationEmail issues a verification code, throttled per email.
func (h *AuthHandler) SendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sendEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !util.ValidEmail(req.Email) {
		respondWithError(w, http.StatusBadRequest, "A valid email is required")
		return
	}

	decision, err := h.limiter.CheckAndRecord(ctx, req.Email, model.ActionTypeResend,
		h.limits.DefaultMaxAttempts, h.limits.DefaultWindowDuration)
	if err != nil {
		respondWithError(w, getStatusCode(err), "Failed to check rate limit")
		return
	}
	if decision.Limited {
		respondWithError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
		return
	}

	if err := h.otpService.Issue(ctx, req.Email, model.TokenTypeVerification); err != nil {
		h.logger.Error("Failed to issue verification code", util.ErrorField(err))
		respondWithError(w, getStatusCode(err), "Failed to send verification email")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Verification code sent",
	})
}

// SendPasswordReset issues a reset code. The response is identical whether
// or not an account exists; only the record creation differs.
func (h *AuthHandler) SendPasswordReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sendEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !util.ValidEmail(req.Email) {
		respondWithError(w, http.StatusBadRequest, "A valid email is required")
		return
	}

	if err := h.otpService.Issue(ctx, req.Email, model.TokenTypePasswordReset); err != nil {
		h.logger.Error("Failed to issue password reset code", util.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "If an account exists for this email, a reset code has been sent",
	})
}

// VerifyOTP claims a submitted code. At most one caller per issued code
// ever sees success.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tokenType, ok := model.ParseTokenType(req.Type)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid token type")
		return
	}

	verified, err := h.otpService.Verify(ctx, req.Email, req.Token, tokenType)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrTokenInvalidOrExpired):
			respondWithError(w, http.StatusBadRequest, "Invalid or expired token")
		case errors.Is(err, errs.ErrValidation):
			respondWithError(w, http.StatusBadRequest, "Invalid or expired token")
		default:
			h.logger.Error("OTP verification failed on the store side", util.ErrorField(err))
			respondWithError(w, http.StatusInternalServerError, "Verification temporarily unavailable")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"valid":   true,
		"email":   verified.Email,
		"type":    string(verified.Type),
	})
}

// RateLimit exposes the limiter to the frontend. Being limited is a normal
// 200 response with is_limited set, not an HTTP error; a degraded store is a
// 200 with fallback set.
func (h *AuthHandler) RateLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req rateLimitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Identifier == "" {
		respondWithError(w, http.StatusBadRequest, "identifier is required")
		return
	}
	action, ok := model.ParseActionType(req.ActionType)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid action type")
		return
	}

	maxAttempts := h.limits.DefaultMaxAttempts
	if req.MaxAttempts != nil {
		maxAttempts = clampInt(*req.MaxAttempts, 1, 100)
	}
	window := h.limits.DefaultWindowDuration
	if req.WindowDuration != nil {
		window = clampDuration(time.Duration(*req.WindowDuration)*time.Millisecond, time.Second, 24*time.Hour)
	}

	decision, err := h.limiter.CheckAndRecord(ctx, req.Identifier, action, maxAttempts, window)
	if err != nil {
		respondWithError(w, getStatusCode(err), "Failed to check rate limit")
		return
	}

	if decision.Fallback {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"is_limited": false,
			"fallback":   true,
		})
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":             true,
		"is_limited":          decision.Limited,
		"attempt_count":       decision.AttemptCount,
		"max_attempts":        decision.MaxAttempts,
		"time_until_reset_ms": decision.TimeUntilReset.Milliseconds(),
	})
}

// ResetPassword sets a new password through the privileged admin path.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !util.ValidEmail(req.Email) {
		respondWithError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if len(req.NewPassword) < 8 {
		respondWithError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	if err := h.passwords.AdminUpdatePasswordByEmail(ctx, util.NormalizeEmail(req.Email), req.NewPassword); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("Password reset failed", util.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to reset password")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
