package authgate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"marketplace-gateway/internal/audit"
	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/idp"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

// Gate turns credentials into sessions and enforces role requirements for
// every protected endpoint. Its hard invariant: no response path leaves a
// live, cookie-bearing session for a caller that failed the role check —
// the compensating sign-out always completes before the error surfaces.
type Gate struct {
	provider idp.Provider
	mfa      *MFAGate
	recorder *audit.Recorder
}

func NewGate(provider idp.Provider, mfa *MFAGate, recorder *audit.Recorder) *Gate {
	return &Gate{provider: provider, mfa: mfa, recorder: recorder}
}

// Authenticate verifies primary credentials with the identity provider.
func (g *Gate) Authenticate(ctx context.Context, email, password string) (*model.Session, *idp.UserInfo, error) {
	session, user, err := g.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, errs.ErrAuthentication) {
			g.recorder.Record(ctx, model.EventLoginFailed, email, "", "invalid credentials")
		}
		return nil, nil, err
	}

	g.recorder.Record(ctx, model.EventLoginSucceeded, email, session.UserID, "")
	return session, user, nil
}

// RequireRole resolves the caller's role through the privileged lookup and
// checks it against the requirement. This runs as a critical section per
// session: on a missing record, a mismatched role, or a failed lookup the
// session is revoked before any error is returned. Fail closed.
func (g *Gate) RequireRole(ctx context.Context, session *model.Session, required model.Role) (*model.RoleRecord, error) {
	record, err := g.provider.RoleRecord(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			g.revoke(ctx, session, "no role record")
			return nil, err
		}
		// Role verification failed after credentials succeeded; the
		// session cannot be trusted.
		g.revoke(ctx, session, "role lookup failed")
		return nil, err
	}

	if record.Role != required {
		g.revoke(ctx, session, fmt.Sprintf("role %s, required %s", record.Role, required))
		g.recorder.Record(ctx, model.EventRoleDenied, record.Email, session.UserID, string(record.Role))
		return nil, fmt.Errorf("%w: role %q does not satisfy %q", errs.ErrAuthorization, record.Role, required)
	}

	return record, nil
}

// Refresh exchanges a valid refresh token for a new session. An invalid or
// expired token yields an authentication error and no session.
func (g *Gate) Refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh token", errs.ErrAuthentication)
	}
	return g.provider.RefreshSession(ctx, refreshToken)
}

// Introspect resolves the account behind an access token.
func (g *Gate) Introspect(ctx context.Context, accessToken string) (*idp.UserInfo, error) {
	return g.provider.UserFromToken(ctx, accessToken)
}

// SignOut revokes the session and discards its MFA continuation state.
func (g *Gate) SignOut(ctx context.Context, session *model.Session) error {
	if err := g.provider.SignOut(ctx, session.AccessToken); err != nil {
		return err
	}
	if err := g.mfa.Discard(ctx, session.UserID); err != nil {
		util.Warn("Failed to discard MFA state on sign-out",
			zap.String("user_id", session.UserID),
			zap.Error(err))
	}
	g.recorder.Record(ctx, model.EventSignedOut, session.UserID, session.UserID, "")
	return nil
}

// MFA exposes the continuation gate for handlers that enforce it directly.
func (g *Gate) MFA() *MFAGate {
	return g.mfa
}

// revoke is the compensating sign-out for a failed role check. It must
// complete before the caller sees an error; its own failure is logged but
// cannot resurrect the response.
func (g *Gate) revoke(ctx context.Context, session *model.Session, reason string) {
	util.Warn("Revoking session after failed role verification",
		zap.String("user_id", session.UserID),
		zap.String("reason", reason))
	if err := g.provider.SignOut(ctx, session.AccessToken); err != nil {
		util.Error("Compensating sign-out failed",
			zap.String("user_id", session.UserID),
			zap.Error(err))
	}
	if err := g.mfa.Discard(ctx, session.UserID); err != nil {
		util.Warn("Failed to discard MFA state on revoke",
			zap.String("user_id", session.UserID),
			zap.Error(err))
	}
}
