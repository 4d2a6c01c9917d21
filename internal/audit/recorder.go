package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"marketplace-gateway/internal/client"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

// Recorder writes the security audit trail. Both sinks are best-effort:
// a sink failure is logged and the request proceeds. OTP records stay in the
// token store for correlation; this trail is the queryable side of it.
type Recorder struct {
	kafka   *client.KafkaProducer
	ch      *client.ClickHouseClient
	buckets int
}

// NewRecorder accepts nil sinks; a Recorder with no sinks only logs.
func NewRecorder(kafka *client.KafkaProducer, ch *client.ClickHouseClient, buckets int) *Recorder {
	if buckets <= 0 {
		buckets = 64
	}
	return &Recorder{kafka: kafka, ch: ch, buckets: buckets}
}

// Record emits one event. The write is detached from the caller's request
// lifetime: an event for an action that completed is still written even if
// the caller has disconnected.
func (r *Recorder) Record(ctx context.Context, eventType, identifier, userID, details string) {
	if r == nil {
		return
	}

	event := model.SecurityEvent{
		EventID:     uuid.New().String(),
		EventBucket: r.bucketFor(identifier),
		EventTime:   time.Now().UTC(),
		EventType:   eventType,
		Identifier:  identifier,
		UserID:      userID,
		Details:     details,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if r.kafka != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			util.Error("Failed to encode security event", zap.Error(err))
		} else if err := r.kafka.Publish(ctx, []byte(identifier), payload); err != nil {
			util.Warn("Failed to publish security event",
				zap.String("event_type", eventType),
				zap.Error(err))
		}
	}

	if r.ch != nil {
		query := fmt.Sprintf(
			"INSERT INTO %s (event_id, event_bucket, event_time, event_type, identifier, user_id, details) VALUES (?, ?, ?, ?, ?, ?, ?)",
			r.ch.Table())
		if err := r.ch.AsyncInsert(ctx, query,
			event.EventID, event.EventBucket, event.EventTime,
			event.EventType, event.Identifier, event.UserID, event.Details); err != nil {
			util.Warn("Failed to insert security event",
				zap.String("event_type", eventType),
				zap.Error(err))
		}
	}

	util.Debug("Security event recorded",
		zap.String("event_type", eventType),
		zap.String("identifier", identifier),
		zap.Int("bucket", event.EventBucket))
}

// bucketFor spreads hot identifiers across partitions deterministically.
func (r *Recorder) bucketFor(identifier string) int {
	return int(murmur3.Sum32([]byte(identifier)) % uint32(r.buckets))
}
