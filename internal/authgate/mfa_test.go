package authgate

import (
	"context"
	"fmt"
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
	"marketplace-gateway/internal/store/redisstore"
)

func newTestMFAGate(t *testing.T, provider *fakeProvider) (*MFAGate, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstore.NewMFAStateStore(client.NewRedisClientFromExisting(rdb))
	return NewMFAGate(store, provider, audit.NewRecorder(nil, nil, 64), time.Hour), mr
}

func userWithFactor() *idp.UserInfo {
	return &idp.UserInfo{
		ID:    "user-1",
		Email: "admin@example.com",
		Factors: []idp.Factor{
			{ID: "factor-unverified", Type: "totp", Status: "unverified"},
			{ID: "factor-1", Type: "totp", Status: "verified"},
		},
	}
}

func TestBeginWithoutFactorIsTerminal(t *testing.T) {
	gate, _ := newTestMFAGate(t, &fakeProvider{})
	session := testSession()

	pending, err := gate.Begin(context.Background(), session, &idp.UserInfo{ID: "user-1"})
	require.NoError(t, err)
	assert.False(t, pending)

	assert.NoError(t, gate.Require(context.Background(), session.UserID),
		"no registered factor means no pending state, ever")
}

func TestBeginWithVerifiedFactorPendsTheSession(t *testing.T) {
	gate, _ := newTestMFAGate(t, &fakeProvider{})
	session := testSession()

	pending, err := gate.Begin(context.Background(), session, userWithFactor())
	require.NoError(t, err)
	assert.True(t, pending)

	err = gate.Require(context.Background(), session.UserID)
	assert.ErrorIs(t, err, errs.ErrAuthorization,
		"protected operations are refused while the factor is unproven")
}

func TestVerifyMovesPendingToSatisfied(t *testing.T) {
	provider := &fakeProvider{}
	gate, _ := newTestMFAGate(t, provider)
	session := testSession()

	_, err := gate.Begin(context.Background(), session, userWithFactor())
	require.NoError(t, err)

	require.NoError(t, gate.Verify(context.Background(), session, "123456"))
	assert.NoError(t, gate.Require(context.Background(), session.UserID))

	// The gate challenges the first verified factor, not the unverified one.
	assert.Contains(t, provider.callLog(), "verify_factor")
}

func TestVerifyRejectsMalformedCodeWithoutProviderCall(t *testing.T) {
	provider := &fakeProvider{}
	gate, _ := newTestMFAGate(t, provider)
	session := testSession()

	_, err := gate.Begin(context.Background(), session, userWithFactor())
	require.NoError(t, err)

	err = gate.Verify(context.Background(), session, "12ab56")
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.NotContains(t, provider.callLog(), "verify_factor",
		"a malformed code is rejected locally")
}

func TestVerifyFailureKeepsSessionPending(t *testing.T) {
	provider := &fakeProvider{
		verifyErr: fmt.Errorf("%w: wrong code", errs.ErrAuthentication),
	}
	gate, _ := newTestMFAGate(t, provider)
	session := testSession()

	_, err := gate.Begin(context.Background(), session, userWithFactor())
	require.NoError(t, err)

	err = gate.Verify(context.Background(), session, "123456")
	assert.ErrorIs(t, err, errs.ErrAuthentication)

	err = gate.Require(context.Background(), session.UserID)
	assert.ErrorIs(t, err, errs.ErrAuthorization)
}

func TestVerifyWithoutPendingStateIsRejected(t *testing.T) {
	gate, _ := newTestMFAGate(t, &fakeProvider{})

	err := gate.Verify(context.Background(), testSession(), "123456")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRequireFailsClosedWhenStateStoreIsDown(t *testing.T) {
	gate, mr := newTestMFAGate(t, &fakeProvider{})
	session := testSession()

	_, err := gate.Begin(context.Background(), session, userWithFactor())
	require.NoError(t, err)

	mr.Close()

	err = gate.Require(context.Background(), session.UserID)
	assert.ErrorIs(t, err, errs.ErrInternal,
		"an unverifiable gate does not open")
}
