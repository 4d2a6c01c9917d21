package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketplace-gateway/internal/util"
)

// TokenPruner removes spent and expired verification codes.
type TokenPruner interface {
	PruneExpired(ctx context.Context, olderThan time.Duration) (int, error)
}

// ReminderRunner performs one subscription-reminder sweep.
type ReminderRunner interface {
	Run(ctx context.Context) (int, error)
}

// CronHandler serves the scheduler-only endpoints. Every request must carry
// the shared cron secret as a bearer token; comparison is constant-time.
type CronHandler struct {
	secret    string
	pruner    TokenPruner
	reminders ReminderRunner
	logger    *zap.Logger
}

func NewCronHandler(secret string, pruner TokenPruner, reminders ReminderRunner, logger *zap.Logger) *CronHandler {
	return &CronHandler{secret: secret, pruner: pruner, reminders: reminders, logger: logger}
}

func (h *CronHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}

// SubscriptionReminders triggers a reminder sweep for vendor subscriptions
// nearing renewal, then prunes spent verification codes as housekeeping.
func (h *CronHandler) SubscriptionReminders(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	ctx := r.Context()

	sent, err := h.reminders.Run(ctx)
	if err != nil {
		h.logger.Error("Reminder sweep failed", util.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Reminder sweep failed")
		return
	}

	pruned := 0
	if h.pruner != nil {
		pruned, err = h.pruner.PruneExpired(ctx, 24*time.Hour)
		if err != nil {
			h.logger.Warn("Token pruning failed", util.ErrorField(err))
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"reminders_sent": sent,
		"tokens_pruned":  pruned,
	})
}
