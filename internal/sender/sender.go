// Package sender holds the remote delivery mechanisms invoked at fire
// time: the vendor push REST API, local in-process display, and the
// SNS/SES channel adapters.
package sender

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/notify"
)

// Sender is the unified interface for all delivery channels.
type Sender interface {
	Send(ctx context.Context, n *notify.Notification) error
	SupportsChannel(channel string) bool
}

// MultiSender routes notifications to the first sender that supports
// the notification's channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given senders, in preference order.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders, logger: logger}
}

// Send routes the notification to the appropriate sender based on channel.
func (m *MultiSender) Send(ctx context.Context, n *notify.Notification) error {
	for _, s := range m.senders {
		if s.SupportsChannel(n.Channel) {
			m.logger.Debug("routing notification to sender",
				zap.String("channel", n.Channel),
				zap.String("notification_id", n.ID.String()),
			)
			return s.Send(ctx, n)
		}
	}
	return fmt.Errorf("no sender found for channel: %s", n.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel.
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, s := range m.senders {
		if s.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs notifications instead of delivering them. Used in
// development and as the fallback when no channel is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, n *notify.Notification) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("id", n.ID.String()),
		zap.String("channel", n.Channel),
		zap.String("user_id", n.UserID.String()),
		zap.String("type", string(n.Type)),
		zap.String("title", n.Title),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	// LogSender accepts every channel in development mode.
	return channel == notify.ChannelPush ||
		channel == notify.ChannelLocal ||
		channel == notify.ChannelMobilePush ||
		channel == notify.ChannelEmail
}
