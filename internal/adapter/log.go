package adapter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
)

// Log is a development adapter that records sends instead of delivering
// them. It accepts any non-empty contact.
type Log struct {
	channel notify.Channel
	logger  *zap.Logger
}

// NewLog creates a log adapter for the given channel.
func NewLog(ch notify.Channel, logger *zap.Logger) *Log {
	return &Log{channel: ch, logger: logger}
}

func (l *Log) Send(_ context.Context, contact, body, subject string) (notify.SendOutcome, error) {
	l.logger.Info("simulated send",
		zap.String("channel", string(l.channel)),
		zap.String("to", contact),
		zap.String("subject", subject),
		zap.Int("body_len", len(body)),
	)
	return notify.SendOutcome{
		ProviderMessageID: fmt.Sprintf("sim_%s_%d", l.channel, time.Now().UnixNano()),
	}, nil
}

func (l *Log) ValidateContact(contact string) bool {
	return contact != ""
}
