package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketplace-gateway/internal/config"
	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/otp"
)

type fakeOTPService struct {
	issueErr  error
	verifyErr error
	verified  *otp.VerifiedToken

	issued []model.TokenType
}

func (f *fakeOTPService) Issue(ctx context.Context, email string, tokenType model.TokenType) error {
	f.issued = append(f.issued, tokenType)
	return f.issueErr
}

func (f *fakeOTPService) Verify(ctx context.Context, email, token string, tokenType model.TokenType) (*otp.VerifiedToken, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verified, nil
}

type fakeLimiter struct {
	decision *model.Decision
	err      error

	gotMaxAttempts int
	gotWindow      time.Duration
}

func (f *fakeLimiter) CheckAndRecord(ctx context.Context, identifier string, action model.ActionType, maxAttempts int, window time.Duration) (*model.Decision, error) {
	f.gotMaxAttempts = maxAttempts
	f.gotWindow = window
	if f.err != nil {
		return nil, f.err
	}
	if f.decision != nil {
		return f.decision, nil
	}
	return &model.Decision{Limited: false, AttemptCount: 1, MaxAttempts: maxAttempts, TimeUntilReset: window}, nil
}

type fakePasswordAdmin struct {
	err error
}

func (f *fakePasswordAdmin) AdminUpdatePasswordByEmail(ctx context.Context, email, newPassword string) error {
	return f.err
}

func testLimits() config.RateLimitConfig {
	return config.RateLimitConfig{DefaultMaxAttempts: 3, DefaultWindowDuration: time.Hour}
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestSendVerificationEmailHappyPath(t *testing.T) {
	svc := &fakeOTPService{}
	h := NewAuthHandler(svc, &fakeLimiter{}, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.SendVerificationEmail, `{"email":"user@example.com"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []model.TokenType{model.TokenTypeVerification}, svc.issued)
}

func TestSendVerificationEmailRejectsWhenLimited(t *testing.T) {
	svc := &fakeOTPService{}
	limiter := &fakeLimiter{decision: &model.Decision{Limited: true, AttemptCount: 4, MaxAttempts: 3}}
	h := NewAuthHandler(svc, limiter, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.SendVerificationEmail, `{"email":"user@example.com"}`)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Empty(t, svc.issued, "a limited request must not issue a code")
}

func TestSendVerificationEmailAllowsOnLimiterFallback(t *testing.T) {
	svc := &fakeOTPService{}
	limiter := &fakeLimiter{decision: &model.Decision{Limited: false, Fallback: true}}
	h := NewAuthHandler(svc, limiter, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.SendVerificationEmail, `{"email":"user@example.com"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, svc.issued, 1)
}

func TestSendPasswordResetAlwaysClaimsSuccess(t *testing.T) {
	h := NewAuthHandler(&fakeOTPService{}, &fakeLimiter{}, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.SendPasswordReset, `{"email":"stranger@example.com"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Contains(t, body["message"], "If an account exists")
}

func TestVerifyOTPSuccessShape(t *testing.T) {
	svc := &fakeOTPService{verified: &otp.VerifiedToken{Email: "user@example.com", Type: model.TokenTypeVerification}}
	h := NewAuthHandler(svc, &fakeLimiter{}, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.VerifyOTP, `{"email":"user@example.com","token":"042137","type":"verification"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "user@example.com", body["email"])
	assert.Equal(t, "verification", body["type"])
}

func TestVerifyOTPInvalidToken(t *testing.T) {
	svc := &fakeOTPService{verifyErr: fmt.Errorf("%w", errs.ErrTokenInvalidOrExpired)}
	h := NewAuthHandler(svc, &fakeLimiter{}, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.VerifyOTP, `{"email":"user@example.com","token":"000000","type":"verification"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Invalid or expired token"}`, rr.Body.String())
}

func TestVerifyOTPStoreOutageIsNotABadToken(t *testing.T) {
	svc := &fakeOTPService{verifyErr: fmt.Errorf("%w: scylla timeout", errs.ErrInternal)}
	h := NewAuthHandler(svc, &fakeLimiter{}, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.VerifyOTP, `{"email":"user@example.com","token":"123456","type":"verification"}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestVerifyOTPRejectsUnknownType(t *testing.T) {
	h := NewAuthHandler(&fakeOTPService{}, &fakeLimiter{}, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.VerifyOTP, `{"email":"user@example.com","token":"123456","type":"magic_link"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRateLimitResponseShape(t *testing.T) {
	limiter := &fakeLimiter{decision: &model.Decision{
		Limited:        true,
		AttemptCount:   4,
		MaxAttempts:    3,
		TimeUntilReset: 90 * time.Second,
	}}
	h := NewAuthHandler(&fakeOTPService{}, limiter, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.RateLimit, `{"identifier":"user@example.com","actionType":"signup"}`)

	assert.Equal(t, http.StatusOK, rr.Code, "being limited is a normal response, not an HTTP error")
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["is_limited"])
	assert.Equal(t, float64(4), body["attempt_count"])
	assert.Equal(t, float64(3), body["max_attempts"])
	assert.Equal(t, float64(90000), body["time_until_reset_ms"])
}

func TestRateLimitFallbackShape(t *testing.T) {
	limiter := &fakeLimiter{decision: &model.Decision{Limited: false, Fallback: true}}
	h := NewAuthHandler(&fakeOTPService{}, limiter, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.RateLimit, `{"identifier":"user@example.com","actionType":"signup"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["fallback"])
	assert.Equal(t, false, body["is_limited"])
}

func TestRateLimitClampsOverrides(t *testing.T) {
	limiter := &fakeLimiter{}
	h := NewAuthHandler(&fakeOTPService{}, limiter, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.RateLimit,
		`{"identifier":"user@example.com","actionType":"signup","maxAttempts":5000,"windowDuration":50}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 100, limiter.gotMaxAttempts)
	assert.Equal(t, time.Second, limiter.gotWindow)
}

func TestRateLimitRejectsUnknownAction(t *testing.T) {
	h := NewAuthHandler(&fakeOTPService{}, &fakeLimiter{}, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.RateLimit, `{"identifier":"user@example.com","actionType":"login"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResetPasswordEnforcesMinimumLength(t *testing.T) {
	h := NewAuthHandler(&fakeOTPService{}, &fakeLimiter{}, &fakePasswordAdmin{}, testLimits(), zap.NewNop())

	rr := postJSON(t, h.ResetPassword, `{"email":"user@example.com","newPassword":"short"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResetPasswordUnknownUser(t *testing.T) {
	admin := &fakePasswordAdmin{err: fmt.Errorf("%w", errs.ErrNotFound)}
	h := NewAuthHandler(&fakeOTPService{}, &fakeLimiter{}, admin, testLimits(), zap.NewNop())

	rr := postJSON(t, h.ResetPassword, `{"email":"user@example.com","newPassword":"longenough"}`)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"User not found"}`, rr.Body.String())
}

func TestResetPasswordProviderFailure(t *testing.T) {
	admin := &fakePasswordAdmin{err: errors.New("provider 500")}
	h := NewAuthHandler(&fakeOTPService{}, &fakeLimiter{}, admin, testLimits(), zap.NewNop())

	rr := postJSON(t, h.ResetPassword, `{"email":"user@example.com","newPassword":"longenough"}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
