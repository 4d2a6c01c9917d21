package otp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-gateway/internal/audit"
	"marketplace-gateway/internal/config"
	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/model"
)

// fakeTokenStore mimics the conditional-write semantics of the real store:
// Claim flips used=true under a lock, so only one caller wins per record.
type fakeTokenStore struct {
	mu      sync.Mutex
	records []*model.OTPRecord

	insertErr error
	claimErr  error
}

func (f *fakeTokenStore) Insert(ctx context.Context, rec *model.OTPRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records = append(f.records, &cp)
	return nil
}

func (f *fakeTokenStore) Claim(ctx context.Context, email string, tokenType model.TokenType, token string, now time.Time) (*model.OTPRecord, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.Email == email && rec.Type == tokenType && rec.Token == token && rec.Eligible(now) {
			rec.Used = true
			cp := *rec
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w", errs.ErrTokenInvalidOrExpired)
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	codes []string
	err   error
}

func (f *fakeSender) SendOTP(ctx context.Context, email, code string, purpose model.TokenType) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, email)
	f.codes = append(f.codes, code)
	return nil
}

type fakeDirectory struct {
	accounts map[string]bool
	err      error
}

func (f *fakeDirectory) HasAccount(ctx context.Context, email string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.accounts[email], nil
}

func newTestService(store *fakeTokenStore, sender *fakeSender, dir *fakeDirectory) *Service {
	return NewService(store, sender, dir, audit.NewRecorder(nil, nil, 64), config.OTPConfig{
		VerificationTTL:  10 * time.Minute,
		PasswordResetTTL: time.Hour,
	})
}

func TestIssuePersistsZeroPaddedCode(t *testing.T) {
	store := &fakeTokenStore{}
	sender := &fakeSender{}
	svc := newTestService(store, sender, &fakeDirectory{})

	err := svc.Issue(context.Background(), "User@Example.com", model.TokenTypeVerification)
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, "user@example.com", rec.Email)
	assert.Equal(t, model.TokenTypeVerification, rec.Type)
	assert.False(t, rec.Used)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), rec.Token, "codes keep leading zeros")
	assert.Equal(t, 10*time.Minute, rec.ExpiresAt.Sub(rec.CreatedAt))

	require.Len(t, sender.codes, 1)
	assert.Equal(t, rec.Token, sender.codes[0])
}

func TestIssueUsesLongerTTLForPasswordReset(t *testing.T) {
	store := &fakeTokenStore{}
	svc := newTestService(store, &fakeSender{}, &fakeDirectory{accounts: map[string]bool{"user@example.com": true}})

	err := svc.Issue(context.Background(), "user@example.com", model.TokenTypePasswordReset)
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, time.Hour, rec.ExpiresAt.Sub(rec.CreatedAt))
}

func TestIssueAbortsWhenPersistenceFails(t *testing.T) {
	store := &fakeTokenStore{insertErr: errors.New("scylla down")}
	sender := &fakeSender{}
	svc := newTestService(store, sender, &fakeDirectory{})

	err := svc.Issue(context.Background(), "user@example.com", model.TokenTypeVerification)
	assert.ErrorIs(t, err, errs.ErrInternal)
	assert.Empty(t, sender.sent, "no delivery without a persisted record")
}

func TestIssueSucceedsWhenDeliveryFails(t *testing.T) {
	store := &fakeTokenStore{}
	sender := &fakeSender{err: errors.New("smtp timeout")}
	svc := newTestService(store, sender, &fakeDirectory{})

	err := svc.Issue(context.Background(), "user@example.com", model.TokenTypeVerification)
	assert.NoError(t, err, "the record stands even when delivery fails")
	assert.Len(t, store.records, 1)
}

func TestIssuePasswordResetHidesUnknownAccounts(t *testing.T) {
	store := &fakeTokenStore{}
	sender := &fakeSender{}
	svc := newTestService(store, sender, &fakeDirectory{accounts: map[string]bool{}})

	err := svc.Issue(context.Background(), "stranger@example.com", model.TokenTypePasswordReset)
	assert.NoError(t, err, "unknown email must look exactly like success")
	assert.Empty(t, store.records)
	assert.Empty(t, sender.sent)
}

func TestIssueRejectsInvalidEmail(t *testing.T) {
	svc := newTestService(&fakeTokenStore{}, &fakeSender{}, &fakeDirectory{})

	err := svc.Issue(context.Background(), "not-an-email", model.TokenTypeVerification)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestVerifyClaimsIssuedCode(t *testing.T) {
	store := &fakeTokenStore{}
	sender := &fakeSender{}
	svc := newTestService(store, sender, &fakeDirectory{})

	require.NoError(t, svc.Issue(context.Background(), "user@example.com", model.TokenTypeVerification))
	code := sender.codes[0]

	verified, err := svc.Verify(context.Background(), "User@example.com", code, model.TokenTypeVerification)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", verified.Email)
	assert.Equal(t, model.TokenTypeVerification, verified.Type)

	// A spent code never verifies again.
	_, err = svc.Verify(context.Background(), "user@example.com", code, model.TokenTypeVerification)
	assert.ErrorIs(t, err, errs.ErrTokenInvalidOrExpired)
}

func TestVerifyRejectsWrongTypeAndCode(t *testing.T) {
	store := &fakeTokenStore{}
	sender := &fakeSender{}
	svc := newTestService(store, sender, &fakeDirectory{})

	require.NoError(t, svc.Issue(context.Background(), "user@example.com", model.TokenTypeVerification))
	code := sender.codes[0]

	_, err := svc.Verify(context.Background(), "user@example.com", code, model.TokenTypePasswordReset)
	assert.ErrorIs(t, err, errs.ErrTokenInvalidOrExpired, "a code is bound to its purpose")

	_, err = svc.Verify(context.Background(), "user@example.com", "000000", model.TokenTypeVerification)
	if code == "000000" {
		t.Skip("generated code collided with the probe value")
	}
	assert.ErrorIs(t, err, errs.ErrTokenInvalidOrExpired)
}

func TestVerifyRejectsMalformedCodeLocally(t *testing.T) {
	svc := newTestService(&fakeTokenStore{}, &fakeSender{}, &fakeDirectory{})

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456"} {
		_, err := svc.Verify(context.Background(), "user@example.com", code, model.TokenTypeVerification)
		assert.ErrorIs(t, err, errs.ErrValidation, "code %q", code)
	}
}

func TestVerifyDistinguishesStoreOutageFromBadToken(t *testing.T) {
	store := &fakeTokenStore{claimErr: errors.New("scylla timeout")}
	svc := newTestService(store, &fakeSender{}, &fakeDirectory{})

	_, err := svc.Verify(context.Background(), "user@example.com", "123456", model.TokenTypeVerification)
	assert.ErrorIs(t, err, errs.ErrInternal)
	assert.NotErrorIs(t, err, errs.ErrTokenInvalidOrExpired,
		"an outage must never be disguised as a rejected token")
}

func TestVerifyHonorsExpiry(t *testing.T) {
	store := &fakeTokenStore{}
	sender := &fakeSender{}
	svc := newTestService(store, sender, &fakeDirectory{})

	require.NoError(t, svc.Issue(context.Background(), "user@example.com", model.TokenTypeVerification))
	code := sender.codes[0]

	svc.nowFn = func() time.Time { return time.Now().Add(11 * time.Minute) }

	_, err := svc.Verify(context.Background(), "user@example.com", code, model.TokenTypeVerification)
	assert.ErrorIs(t, err, errs.ErrTokenInvalidOrExpired)
}

func TestVerifyConcurrentSubmissionsHaveOneWinner(t *testing.T) {
	store := &fakeTokenStore{}
	sender := &fakeSender{}
	svc := newTestService(store, sender, &fakeDirectory{})

	require.NoError(t, svc.Issue(context.Background(), "user@example.com", model.TokenTypeVerification))
	code := sender.codes[0]

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Verify(context.Background(), "user@example.com", code, model.TokenTypeVerification)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, errs.ErrTokenInvalidOrExpired)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent submission may claim the code")
}
