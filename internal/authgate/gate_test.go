package authgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-gateway/internal/audit"
	"marketplace-gateway/internal/client"
	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/idp"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/store/redisstore"
)

// fakeProvider records the order of provider calls so tests can assert that
// the compensating sign-out runs before an error is surfaced.
type fakeProvider struct {
	mu    sync.Mutex
	calls []string

	session *model.Session
	user    *idp.UserInfo
	record  *model.RoleRecord

	signInErr     error
	roleRecordErr error
	signOutErr    error
	verifyErr     error
}

func (f *fakeProvider) note(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeProvider) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, *idp.UserInfo, error) {
	f.note("sign_in")
	if f.signInErr != nil {
		return nil, nil, f.signInErr
	}
	return f.session, f.user, nil
}

func (f *fakeProvider) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	f.note("refresh")
	return f.session, nil
}

func (f *fakeProvider) SignOut(ctx context.Context, accessToken string) error {
	f.note("sign_out")
	return f.signOutErr
}

func (f *fakeProvider) UserFromToken(ctx context.Context, accessToken string) (*idp.UserInfo, error) {
	f.note("user_from_token")
	if f.user == nil {
		return nil, fmt.Errorf("%w: unknown token", errs.ErrAuthentication)
	}
	return f.user, nil
}

func (f *fakeProvider) VerifyFactor(ctx context.Context, accessToken, factorID, code string) error {
	f.note("verify_factor")
	return f.verifyErr
}

func (f *fakeProvider) AdminUserByEmail(ctx context.Context, email string) (*idp.UserInfo, error) {
	f.note("admin_user_by_email")
	if f.user == nil {
		return nil, fmt.Errorf("%w", errs.ErrNotFound)
	}
	return f.user, nil
}

func (f *fakeProvider) AdminUpdatePassword(ctx context.Context, userID, newPassword string) error {
	f.note("admin_update_password")
	return nil
}

func (f *fakeProvider) RoleRecord(ctx context.Context, userID string) (*model.RoleRecord, error) {
	f.note("role_record")
	if f.roleRecordErr != nil {
		return nil, f.roleRecordErr
	}
	return f.record, nil
}

func newTestGate(t *testing.T, provider *fakeProvider) *Gate {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mfaStore := redisstore.NewMFAStateStore(client.NewRedisClientFromExisting(rdb))
	recorder := audit.NewRecorder(nil, nil, 64)
	mfa := NewMFAGate(mfaStore, provider, recorder, time.Hour)
	return NewGate(provider, mfa, recorder)
}

func testSession() *model.Session {
	return &model.Session{
		UserID:          "user-1",
		AccessToken:     "access",
		RefreshToken:    "refresh",
		AccessExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	provider := &fakeProvider{
		record: &model.RoleRecord{UserID: "user-1", Email: "admin@example.com", Role: model.RoleAdmin},
	}
	gate := newTestGate(t, provider)

	record, err := gate.RequireRole(context.Background(), testSession(), model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, record.Role)
	assert.NotContains(t, provider.callLog(), "sign_out")
}

func TestRequireRoleRevokesOnMismatch(t *testing.T) {
	provider := &fakeProvider{
		record: &model.RoleRecord{UserID: "user-1", Email: "user@example.com", Role: model.RoleCustomer},
	}
	gate := newTestGate(t, provider)

	_, err := gate.RequireRole(context.Background(), testSession(), model.RoleAdmin)
	assert.ErrorIs(t, err, errs.ErrAuthorization)
	assert.Equal(t, []string{"role_record", "sign_out"}, provider.callLog(),
		"the session must be revoked before the error returns")
}

func TestRequireRoleRevokesOnMissingRecord(t *testing.T) {
	provider := &fakeProvider{
		roleRecordErr: fmt.Errorf("%w: no profile row", errs.ErrNotFound),
	}
	gate := newTestGate(t, provider)

	_, err := gate.RequireRole(context.Background(), testSession(), model.RoleAdmin)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Contains(t, provider.callLog(), "sign_out")
}

func TestRequireRoleRevokesOnLookupFailure(t *testing.T) {
	provider := &fakeProvider{
		roleRecordErr: errors.New("postgrest unreachable"),
	}
	gate := newTestGate(t, provider)

	_, err := gate.RequireRole(context.Background(), testSession(), model.RoleAdmin)
	assert.Error(t, err)
	assert.Contains(t, provider.callLog(), "sign_out",
		"an unverifiable role must not leave a live session")
}

func TestRequireRoleSurfacesErrorEvenWhenRevocationFails(t *testing.T) {
	provider := &fakeProvider{
		record:     &model.RoleRecord{UserID: "user-1", Role: model.RoleVendor},
		signOutErr: errors.New("provider 500"),
	}
	gate := newTestGate(t, provider)

	_, err := gate.RequireRole(context.Background(), testSession(), model.RoleAdmin)
	assert.ErrorIs(t, err, errs.ErrAuthorization)
}

func TestAuthenticatePassesThroughProviderError(t *testing.T) {
	provider := &fakeProvider{
		signInErr: fmt.Errorf("%w: bad credentials", errs.ErrAuthentication),
	}
	gate := newTestGate(t, provider)

	_, _, err := gate.Authenticate(context.Background(), "user@example.com", "wrong")
	assert.ErrorIs(t, err, errs.ErrAuthentication)
}

func TestRefreshRequiresToken(t *testing.T) {
	gate := newTestGate(t, &fakeProvider{})

	_, err := gate.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, errs.ErrAuthentication)
}

func TestSignOutDiscardsContinuationState(t *testing.T) {
	provider := &fakeProvider{
		user: &idp.UserInfo{
			ID:      "user-1",
			Factors: []idp.Factor{{ID: "factor-1", Type: "totp", Status: "verified"}},
		},
	}
	gate := newTestGate(t, provider)
	session := testSession()

	pending, err := gate.MFA().Begin(context.Background(), session, provider.user)
	require.NoError(t, err)
	require.True(t, pending)

	require.NoError(t, gate.SignOut(context.Background(), session))

	// With the state gone, nothing is pending for this user anymore.
	assert.NoError(t, gate.MFA().Require(context.Background(), session.UserID))
}
