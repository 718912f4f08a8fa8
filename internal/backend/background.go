package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/notify"
	redisx "github.com/unablepath/memospark-notify/internal/redis"
	"github.com/unablepath/memospark-notify/internal/worker"
)

// BackgroundWorker delegates scheduling to the worker process over
// Redis pub/sub. Pending notifications survive gateway restarts because
// the worker owns them. If the worker does not acknowledge within the
// ack timeout, TrySchedule declines and the scheduler falls back to the
// foreground timer.
type BackgroundWorker struct {
	client     *redisx.Client
	hooks      Hooks
	logger     *zap.Logger
	ackTimeout time.Duration
}

// BackgroundConfig holds the transport knobs.
type BackgroundConfig struct {
	// AckTimeout bounds the wait for a worker acknowledgment. The 5s
	// default is inherited configuration, not a tested SLA.
	AckTimeout time.Duration
}

// NewBackgroundWorker creates the preferred backend.
func NewBackgroundWorker(client *redisx.Client, cfg BackgroundConfig, hooks Hooks, logger *zap.Logger) *BackgroundWorker {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	return &BackgroundWorker{
		client:     client,
		hooks:      hooks,
		logger:     logger,
		ackTimeout: cfg.AckTimeout,
	}
}

// Available reports whether the worker process heartbeat is fresh.
func (b *BackgroundWorker) Available(ctx context.Context) bool {
	n, err := b.client.RDB().Exists(ctx, worker.HeartbeatKey).Result()
	if err != nil {
		b.logger.Warn("worker heartbeat check failed", zap.Error(err))
		return false
	}
	return n > 0
}

// roundTrip publishes a request and waits for the worker's reply.
// A nil response means the worker did not answer in time.
func (b *BackgroundWorker) roundTrip(ctx context.Context, req worker.Request) *worker.Response {
	req.ReplyTo = worker.ReplyChannelPrefix + uuid.NewString()

	sub := b.client.RDB().Subscribe(ctx, req.ReplyTo)
	defer sub.Close()

	// Confirm the subscription is live before publishing, otherwise the
	// reply can race past us.
	if _, err := sub.Receive(ctx); err != nil {
		b.logger.Warn("worker reply subscription failed", zap.Error(err))
		return nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		b.logger.Error("marshal worker request failed", zap.Error(err))
		return nil
	}
	if err := b.client.RDB().Publish(ctx, worker.RequestChannel, payload).Err(); err != nil {
		b.logger.Warn("publish worker request failed", zap.Error(err))
		return nil
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return nil
		}
		var resp worker.Response
		if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
			b.logger.Warn("worker response malformed", zap.Error(err))
			return nil
		}
		return &resp
	case <-timer.C:
		b.logger.Warn("worker ack timed out",
			zap.String("type", string(req.Type)),
			zap.Duration("timeout", b.ackTimeout),
		)
		return nil
	case <-ctx.Done():
		return nil
	}
}

// TrySchedule hands the notification to the worker. Declines on a
// missing heartbeat, a nack, or an ack timeout.
func (b *BackgroundWorker) TrySchedule(ctx context.Context, n *notify.Notification) bool {
	if !b.Available(ctx) {
		b.logger.Debug("background worker unavailable, declining",
			zap.String("id", n.ID.String()),
		)
		return false
	}

	resp := b.roundTrip(ctx, worker.Request{Type: worker.MsgSchedule, Notification: n})
	if resp == nil || !resp.OK {
		return false
	}
	return true
}

// Cancel asks the worker to drop a pending notification.
func (b *BackgroundWorker) Cancel(ctx context.Context, id string) bool {
	resp := b.roundTrip(ctx, worker.Request{Type: worker.MsgCancel, ID: id})
	return resp != nil && resp.OK
}

// CancelAll clears the worker's entire pending set.
func (b *BackgroundWorker) CancelAll(ctx context.Context) bool {
	resp := b.roundTrip(ctx, worker.Request{Type: worker.MsgCancelAll})
	return resp != nil && resp.OK
}

// List asks the worker for its pending notifications. An unresponsive
// worker yields an empty list, not an error.
func (b *BackgroundWorker) List(ctx context.Context) []*notify.Notification {
	resp := b.roundTrip(ctx, worker.Request{Type: worker.MsgList})
	if resp == nil || !resp.OK {
		return nil
	}
	return resp.Notifications
}

func (b *BackgroundWorker) Name() string { return "background" }

// ListenEvents consumes the worker's lifecycle events and relays them
// to the hooks until ctx is cancelled. Run it in its own goroutine.
func (b *BackgroundWorker) ListenEvents(ctx context.Context) {
	sub := b.client.RDB().Subscribe(ctx, worker.EventChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev worker.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("worker event malformed", zap.Error(err))
				continue
			}
			if ev.Notification == nil {
				continue
			}
			switch ev.Type {
			case worker.EventDelivered:
				b.hooks.delivered(ev.Notification)
			case worker.EventFailed:
				b.hooks.failed(ev.Notification, ev.Reason)
			}
		}
	}
}
