package sender

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/notify"
)

// DisplayEvent is what a local-delivery observer receives. Clients
// consuming the in-app feed report clicks and dismissals back through
// the events API, which routes into the stats recorder.
type DisplayEvent struct {
	Notification *notify.Notification
}

// Observer receives display events synchronously, in subscription order.
type Observer func(DisplayEvent)

// LocalSender delivers in the current process: the notification is
// appended to an in-memory feed and every registered observer is
// invoked. The observer list replaces ambient event-bus dispatch so
// ordering and lifetime stay explicit.
type LocalSender struct {
	mu        sync.Mutex
	observers []Observer
	feed      []*notify.Notification
	feedCap   int
	logger    *zap.Logger
}

// NewLocalSender creates a local display sender. feedCap bounds the
// retained feed; zero means 100.
func NewLocalSender(logger *zap.Logger, feedCap int) *LocalSender {
	if feedCap <= 0 {
		feedCap = 100
	}
	return &LocalSender{logger: logger, feedCap: feedCap}
}

// Subscribe registers an observer for every locally displayed
// notification. Subscription happens at wiring time; there is no
// unsubscribe because observer lifetime equals process lifetime.
func (s *LocalSender) Subscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

// Send displays the notification locally.
func (s *LocalSender) Send(ctx context.Context, n *notify.Notification) error {
	s.mu.Lock()
	s.feed = append(s.feed, n)
	if len(s.feed) > s.feedCap {
		s.feed = s.feed[len(s.feed)-s.feedCap:]
	}
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	s.logger.Info("notification displayed locally",
		zap.String("id", n.ID.String()),
		zap.String("user_id", n.UserID.String()),
		zap.String("title", n.Title),
	)

	for _, obs := range observers {
		obs(DisplayEvent{Notification: n})
	}
	return nil
}

// Feed returns the retained local notifications for a user, newest last.
func (s *LocalSender) Feed(userID string) []*notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*notify.Notification
	for _, n := range s.feed {
		if n.UserID.String() == userID {
			out = append(out, n)
		}
	}
	return out
}

// SupportsChannel checks if this sender supports local display.
func (s *LocalSender) SupportsChannel(channel string) bool {
	return channel == notify.ChannelLocal
}
