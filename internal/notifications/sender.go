package notifications

import (
	"context"

	"go.uber.org/zap"
)

// Message is one rendered notification.
type Message struct {
	Type      string
	Channel   string
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers a message over its channel.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, m Message) error {
	s.logger.Info("notification delivered",
		zap.String("type", m.Type),
		zap.String("channel", m.Channel),
		zap.String("recipient", m.Recipient),
		zap.String("subject", m.Subject))
	return nil
}
