package backend

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/notify"
	"github.com/unablepath/memospark-notify/internal/sender"
)

// ForegroundTimer arms one in-process timer per notification. Pending
// items are lost on process restart, so the scheduler only uses it when
// the background worker is unavailable.
type ForegroundTimer struct {
	mu      sync.Mutex
	pending map[string]*foregroundEntry

	sender      sender.Sender
	hooks       Hooks
	logger      *zap.Logger
	now         func() time.Time
	sendTimeout time.Duration
}

type foregroundEntry struct {
	notification *notify.Notification
	timer        *time.Timer
}

// NewForegroundTimer creates the fallback backend. now is injectable
// for tests; nil means time.Now.
func NewForegroundTimer(snd sender.Sender, hooks Hooks, logger *zap.Logger, now func() time.Time) *ForegroundTimer {
	if now == nil {
		now = time.Now
	}
	return &ForegroundTimer{
		pending:     make(map[string]*foregroundEntry),
		sender:      snd,
		hooks:       hooks,
		logger:      logger,
		now:         now,
		sendTimeout: 30 * time.Second,
	}
}

// TrySchedule arms a one-shot timer for the notification's fire time.
// It always accepts.
func (f *ForegroundTimer) TrySchedule(ctx context.Context, n *notify.Notification) bool {
	delay := n.ScheduledAt.Sub(f.now())
	if delay < 0 {
		delay = 0
	}

	id := n.ID.String()

	f.mu.Lock()
	if prev, ok := f.pending[id]; ok {
		prev.timer.Stop()
	}
	entry := &foregroundEntry{notification: n}
	entry.timer = time.AfterFunc(delay, func() { f.fire(id) })
	f.pending[id] = entry
	f.mu.Unlock()

	f.logger.Debug("foreground timer armed",
		zap.String("id", id),
		zap.Duration("delay", delay),
	)
	return true
}

func (f *ForegroundTimer) fire(id string) {
	f.mu.Lock()
	entry, ok := f.pending[id]
	if ok {
		delete(f.pending, id)
	}
	f.mu.Unlock()
	if !ok {
		// Cancelled between timer fire and lock acquisition.
		return
	}

	n := entry.notification

	ctx, cancel := context.WithTimeout(context.Background(), f.sendTimeout)
	defer cancel()

	if err := f.sender.Send(ctx, n); err != nil {
		f.logger.Warn("foreground delivery failed",
			zap.Error(err),
			zap.String("id", id),
			zap.String("channel", n.Channel),
		)
		f.hooks.failed(n, err.Error())
		return
	}
	f.hooks.delivered(n)
}

// Cancel stops the timer and drops the pending entry.
func (f *ForegroundTimer) Cancel(ctx context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.pending[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(f.pending, id)
	return true
}

// List reports the notifications currently held by in-process timers.
func (f *ForegroundTimer) List(ctx context.Context) []*notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*notify.Notification, 0, len(f.pending))
	for _, e := range f.pending {
		out = append(out, e.notification)
	}
	return out
}

func (f *ForegroundTimer) Name() string { return "foreground" }
