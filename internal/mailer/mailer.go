package mailer

import (
	"context"

	"go.uber.org/zap"

	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

// Sender delivers an issued code to its recipient. Delivery is external to
// the gateway: a failure here never rolls back the persisted record, since
// the code may still be supplied out-of-band.
type Sender interface {
	SendOTP(ctx context.Context, email, code string, purpose model.TokenType) error
}

// LogSender is the development sender: it logs instead of delivering.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) SendOTP(ctx context.Context, email, code string, purpose model.TokenType) error {
	util.Info("OTP email (log sender)",
		zap.String("email", email),
		zap.String("purpose", string(purpose)),
		zap.String("code", code))
	return nil
}
