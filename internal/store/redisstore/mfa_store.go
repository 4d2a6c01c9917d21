package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketplace-gateway/internal/client"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

const mfaStatePrefix = "mfa_state:"

// MFAStateStore keeps the per-session continuation record. The TTL matches
// the refresh-token lifetime, so a state never outlives its session; sign-out
// deletes it explicitly.
type MFAStateStore struct {
	client *client.RedisClient
}

func NewMFAStateStore(client *client.RedisClient) *MFAStateStore {
	return &MFAStateStore{client: client}
}

func (s *MFAStateStore) Set(ctx context.Context, sessionID string, state model.MFAState, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal MFA state: %w", err)
	}

	key := mfaStatePrefix + sessionID
	if err := s.client.Set(ctx, key, payload, ttl); err != nil {
		util.Error("Failed to set MFA state",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to set MFA state: %w", err)
	}

	util.Debug("MFA state set",
		zap.String("session_id", sessionID),
		zap.Bool("required", state.Required),
		zap.Bool("satisfied", state.Satisfied))
	return nil
}

// Get returns the state and whether one exists for the session.
func (s *MFAStateStore) Get(ctx context.Context, sessionID string) (model.MFAState, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := mfaStatePrefix + sessionID
	val, found, err := s.client.GetIfExists(ctx, key)
	if err != nil {
		util.Error("Failed to get MFA state",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return model.MFAState{}, false, fmt.Errorf("failed to get MFA state: %w", err)
	}
	if !found {
		return model.MFAState{}, false, nil
	}

	var state model.MFAState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return model.MFAState{}, false, fmt.Errorf("failed to unmarshal MFA state: %w", err)
	}
	return state, true, nil
}

func (s *MFAStateStore) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := mfaStatePrefix + sessionID
	if err := s.client.Del(ctx, key); err != nil {
		util.Error("Failed to delete MFA state",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to delete MFA state: %w", err)
	}

	util.Debug("MFA state deleted", zap.String("session_id", sessionID))
	return nil
}
