package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"marketplace-gateway/internal/audit"
	"marketplace-gateway/internal/config"
	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/mailer"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

// TokenStore is the persistence contract the service requires. Claim must be
// a single conditional write: confirm eligibility and flip used=true in one
// atomic operation, so two concurrent submissions of the same code produce
// exactly one winner.
type TokenStore interface {
	Insert(ctx context.Context, rec *model.OTPRecord) error
	Claim(ctx context.Context, email string, tokenType model.TokenType, token string, now time.Time) (*model.OTPRecord, error)
}

// AccountDirectory answers whether an account exists, via the privileged
// provider path. Only the password-reset flow consults it.
type AccountDirectory interface {
	HasAccount(ctx context.Context, email string) (bool, error)
}

// VerifiedToken is returned to the single winner of a claim.
type VerifiedToken struct {
	Email string
	Type  model.TokenType
}

// Service issues and verifies one-time codes bound to an email and purpose.
type Service struct {
	store     TokenStore
	sender    mailer.Sender
	directory AccountDirectory
	recorder  *audit.Recorder
	cfg       config.OTPConfig

	nowFn func() time.Time
}

func NewService(store TokenStore, sender mailer.Sender, directory AccountDirectory, recorder *audit.Recorder, cfg config.OTPConfig) *Service {
	return &Service{
		store:     store,
		sender:    sender,
		directory: directory,
		recorder:  recorder,
		cfg:       cfg,
		nowFn:     time.Now,
	}
}

// Issue generates a code, persists its record, and hands it to the mailer.
// Persistence failure aborts; delivery failure does not, because the record
// already exists and the code may reach the user out-of-band. For password
// resets against an unknown email the call succeeds without creating a
// record, so responses never reveal account existence.
func (s *Service) Issue(ctx context.Context, email string, tokenType model.TokenType) error {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return fmt.Errorf("%w: invalid email", errs.ErrValidation)
	}

	if tokenType == model.TokenTypePasswordReset {
		exists, err := s.directory.HasAccount(ctx, email)
		if err != nil {
			return fmt.Errorf("account lookup failed: %w", err)
		}
		if !exists {
			// Same success path as an existing account, minus the record.
			util.Info("Password reset requested for unknown email")
			return nil
		}
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("%w: failed to generate code: %v", errs.ErrInternal, err)
	}

	now := s.nowFn().UTC()
	rec := &model.OTPRecord{
		Email:     email,
		Token:     code,
		Type:      tokenType,
		ExpiresAt: now.Add(s.ttlFor(tokenType)),
		Used:      false,
		CreatedAt: now,
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("%w: failed to persist OTP: %v", errs.ErrInternal, err)
	}

	s.recorder.Record(ctx, model.EventOTPIssued, email, "", string(tokenType))

	if err := s.sender.SendOTP(ctx, email, code, tokenType); err != nil {
		// The record stands; the code may still be supplied out-of-band.
		util.Warn("OTP delivery failed after persistence",
			zap.String("email", email),
			zap.String("type", string(tokenType)),
			zap.Error(err))
	}

	return nil
}

// Verify claims the eligible record for (email, token, type). Exactly one
// caller succeeds per issued code; everyone else gets
// errs.ErrTokenInvalidOrExpired. A token-store outage is surfaced as an
// internal error, never disguised as a bad token.
func (s *Service) Verify(ctx context.Context, email, token string, tokenType model.TokenType) (*VerifiedToken, error) {
	email = util.NormalizeEmail(email)
	if !util.ValidEmail(email) {
		return nil, fmt.Errorf("%w: invalid email", errs.ErrValidation)
	}
	if !util.ValidOTPCode(token) {
		return nil, fmt.Errorf("%w: token must be a 6-digit code", errs.ErrValidation)
	}

	rec, err := s.store.Claim(ctx, email, tokenType, token, s.nowFn().UTC())
	if err != nil {
		if errors.Is(err, errs.ErrTokenInvalidOrExpired) {
			s.recorder.Record(ctx, model.EventOTPRejected, email, "", string(tokenType))
			return nil, err
		}
		return nil, fmt.Errorf("%w: token store failure: %v", errs.ErrInternal, err)
	}

	s.recorder.Record(ctx, model.EventOTPClaimed, email, "", string(tokenType))

	return &VerifiedToken{Email: rec.Email, Type: rec.Type}, nil
}

func (s *Service) ttlFor(tokenType model.TokenType) time.Duration {
	if tokenType == model.TokenTypePasswordReset {
		return s.cfg.PasswordResetTTL
	}
	return s.cfg.VerificationTTL
}

// generateCode draws a uniformly random 6-digit code, zero-padded so leading
// zeros survive.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
