package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

// TokenStore persists OTP records in the otp_tokens table:
//
//	CREATE TABLE otp_tokens (
//	    email      text,
//	    type       text,
//	    otp_id     timeuuid,
//	    token      text,
//	    expires_at timestamp,
//	    used       boolean,
//	    created_at timestamp,
//	    PRIMARY KEY ((email, type), otp_id)
//	) WITH CLUSTERING ORDER BY (otp_id DESC);
//
// Records are never edited back to unused and never deleted on use; pruning
// only removes rows that are both expired and claimed.
type TokenStore struct {
	client *Client
}

func NewTokenStore(client *Client) *TokenStore {
	return &TokenStore{client: client}
}

// Insert writes a freshly issued record.
func (s *TokenStore) Insert(ctx context.Context, rec *model.OTPRecord) error {
	if rec.RecordID == "" {
		rec.RecordID = gocql.TimeUUID().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := s.client.Prepared.InsertToken.WithContext(ctx).Bind(
		rec.Email, string(rec.Type), rec.RecordID, rec.Token,
		rec.ExpiresAt, rec.Used, rec.CreatedAt)

	if err := query.Exec(); err != nil {
		util.Error("Failed to insert OTP record",
			zap.String("email", rec.Email),
			zap.String("type", string(rec.Type)),
			zap.Error(err))
		return fmt.Errorf("failed to insert OTP record: %w", err)
	}

	util.Debug("OTP record inserted",
		zap.String("email", rec.Email),
		zap.String("type", string(rec.Type)),
		zap.Time("expires_at", rec.ExpiresAt))
	return nil
}

// Claim finds the most recently created eligible record matching the token
// and flips it to used with a single conditional write. Exactly one caller
// can win; everyone else, including a resubmission of an already claimed
// code, gets errs.ErrTokenInvalidOrExpired. Store failures are returned as
// distinct errors so outages are never reported as a bad token.
func (s *TokenStore) Claim(ctx context.Context, email string, tokenType model.TokenType, token string, now time.Time) (*model.OTPRecord, error) {
	candidate, err := s.findCandidate(ctx, email, tokenType, token, now)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, errs.ErrTokenInvalidOrExpired
	}

	query := s.client.Prepared.ClaimToken.WithContext(ctx).Bind(
		email, string(tokenType), candidate.RecordID, now)

	applied, err := query.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to claim OTP record",
			zap.String("email", email),
			zap.String("type", string(tokenType)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to claim OTP record: %w", err)
	}
	if !applied {
		// Lost the race to a concurrent submission of the same code.
		util.Warn("OTP claim not applied",
			zap.String("email", email),
			zap.String("type", string(tokenType)))
		return nil, errs.ErrTokenInvalidOrExpired
	}

	candidate.Used = true
	util.Info("OTP record claimed",
		zap.String("email", email),
		zap.String("type", string(tokenType)))
	return candidate, nil
}

// findCandidate scans the newest records in the partition for a match. The
// read narrows the target row; eligibility is re-verified by the claim's IF
// clause, never trusted from this read.
func (s *TokenStore) findCandidate(ctx context.Context, email string, tokenType model.TokenType, token string, now time.Time) (*model.OTPRecord, error) {
	iter := s.client.Prepared.SelectCandidates.WithContext(ctx).
		Bind(email, string(tokenType)).Iter()

	var (
		recordID  gocql.UUID
		recToken  string
		expiresAt time.Time
		used      bool
		createdAt time.Time
	)

	var match *model.OTPRecord
	for iter.Scan(&recordID, &recToken, &expiresAt, &used, &createdAt) {
		if match != nil {
			continue
		}
		rec := &model.OTPRecord{
			RecordID:  recordID.String(),
			Email:     email,
			Token:     recToken,
			Type:      tokenType,
			ExpiresAt: expiresAt,
			Used:      used,
			CreatedAt: createdAt,
		}
		if recToken == token && rec.Eligible(now) {
			match = rec
		}
	}
	if err := iter.Close(); err != nil {
		util.Error("Failed to read OTP candidates",
			zap.String("email", email),
			zap.String("type", string(tokenType)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read OTP candidates: %w", err)
	}
	return match, nil
}

// PruneExpired deletes rows that are both expired and claimed. Unclaimed
// expired rows are kept for rate-limit correlation until the next pass.
func (s *TokenStore) PruneExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	iter := s.client.Session.Query(`
        SELECT email, type, otp_id FROM otp_tokens
        WHERE expires_at < ? AND used = true ALLOW FILTERING`, cutoff).
		WithContext(ctx).Iter()

	var (
		email     string
		tokenType string
		recordID  gocql.UUID
	)

	batch := s.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	batchSize := 0
	deleted := 0

	for iter.Scan(&email, &tokenType, &recordID) {
		batch.Query(`DELETE FROM otp_tokens WHERE email = ? AND type = ? AND otp_id = ?`,
			email, tokenType, recordID)
		batchSize++

		if batchSize >= 100 {
			if err := s.client.Session.ExecuteBatch(batch); err != nil {
				iter.Close()
				return deleted, fmt.Errorf("failed to prune expired OTP records: %w", err)
			}
			deleted += batchSize
			batch = s.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if err := s.client.Session.ExecuteBatch(batch); err != nil {
			iter.Close()
			return deleted, fmt.Errorf("failed to prune expired OTP records: %w", err)
		}
		deleted += batchSize
	}

	if err := iter.Close(); err != nil {
		return deleted, fmt.Errorf("failed to scan expired OTP records: %w", err)
	}

	util.Info("Expired OTP records pruned", zap.Int("deleted_count", deleted))
	return deleted, nil
}
