package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/notify"
)

// Sender mirrors the sender.Sender interface to avoid a circular import.
type Sender interface {
	Send(ctx context.Context, n *notify.Notification) error
	SupportsChannel(channel string) bool
}

// ProtectedSender wraps a Sender with a Breaker. When the downstream
// service is failing, sends are rejected immediately instead of piling
// up on a dead endpoint.
type ProtectedSender struct {
	sender  Sender
	breaker *Breaker
	logger  *zap.Logger
}

// NewProtectedSender wraps sender with breaker.
func NewProtectedSender(sender Sender, breaker *Breaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{sender: sender, breaker: breaker, logger: logger}
}

// Send fails fast when the circuit is open, otherwise delegates and
// records the outcome.
func (p *ProtectedSender) Send(ctx context.Context, n *notify.Notification) error {
	if !p.breaker.Allow() {
		p.logger.Warn("send rejected by circuit breaker",
			zap.String("breaker", p.breaker.cfg.Name),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("%w: %s", ErrOpen, p.breaker.cfg.Name)
	}

	if err := p.sender.Send(ctx, n); err != nil {
		p.breaker.RecordFailure()
		return err
	}
	p.breaker.RecordSuccess()
	return nil
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}
