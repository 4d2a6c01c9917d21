package authgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-gateway/internal/audit"
	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/idp"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

// MFAStateStore persists the continuation record for the session's lifetime.
type MFAStateStore interface {
	Set(ctx context.Context, sessionID string, state model.MFAState, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (model.MFAState, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// MFAGate is the second-factor continuation state machine: NoMfa is terminal;
// a credential success with a registered factor moves to Pending, and only a
// successful factor verification moves Pending to Satisfied. While Pending,
// every protected operation is refused server-side — this gate, not the UI,
// is the security boundary.
type MFAGate struct {
	store    MFAStateStore
	provider idp.Provider
	recorder *audit.Recorder
	stateTTL time.Duration
}

func NewMFAGate(store MFAStateStore, provider idp.Provider, recorder *audit.Recorder, stateTTL time.Duration) *MFAGate {
	return &MFAGate{
		store:    store,
		provider: provider,
		recorder: recorder,
		stateTTL: stateTTL,
	}
}

// Begin records the continuation state the moment primary credentials
// succeed. Returns whether a second factor is now pending.
func (m *MFAGate) Begin(ctx context.Context, session *model.Session, user *idp.UserInfo) (bool, error) {
	factorID := user.FirstVerifiedFactor()
	state := model.MFAState{
		Required:  factorID != "",
		FactorID:  factorID,
		Satisfied: false,
	}

	if err := m.store.Set(ctx, session.UserID, state, m.stateTTL); err != nil {
		return false, fmt.Errorf("%w: failed to record MFA state: %v", errs.ErrInternal, err)
	}

	if state.Required {
		m.recorder.Record(ctx, model.EventMFAPending, user.Email, session.UserID, factorID)
	}
	return state.Required, nil
}

// Require refuses the operation while a second factor is pending. A state
// store failure fails closed: an unverifiable gate does not open.
func (m *MFAGate) Require(ctx context.Context, userID string) error {
	state, found, err := m.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: failed to read MFA state: %v", errs.ErrInternal, err)
	}
	if !found {
		// No state means no registered factor was seen at login.
		return nil
	}
	if state.Pending() {
		return fmt.Errorf("%w: second factor required", errs.ErrAuthorization)
	}
	return nil
}

// Verify proves the pending factor. Malformed codes are rejected locally
// without contacting the identity provider.
func (m *MFAGate) Verify(ctx context.Context, session *model.Session, code string) error {
	if !util.ValidOTPCode(code) {
		return fmt.Errorf("%w: code must be a 6-digit number", errs.ErrValidation)
	}

	state, found, err := m.store.Get(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("%w: failed to read MFA state: %v", errs.ErrInternal, err)
	}
	if !found || !state.Pending() {
		return fmt.Errorf("%w: no second factor pending", errs.ErrValidation)
	}

	if err := m.provider.VerifyFactor(ctx, session.AccessToken, state.FactorID, code); err != nil {
		if errors.Is(err, errs.ErrAuthentication) {
			return err
		}
		return fmt.Errorf("%w: factor verification failed: %v", errs.ErrInternal, err)
	}

	state.Satisfied = true
	if err := m.store.Set(ctx, session.UserID, state, m.stateTTL); err != nil {
		return fmt.Errorf("%w: failed to update MFA state: %v", errs.ErrInternal, err)
	}

	m.recorder.Record(ctx, model.EventMFASatisfied, session.UserID, session.UserID, state.FactorID)
	return nil
}

// Discard drops the state along with its session.
func (m *MFAGate) Discard(ctx context.Context, userID string) error {
	return m.store.Delete(ctx, userID)
}
