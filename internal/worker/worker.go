package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/history"
	"github.com/unablepath/memospark-notify/internal/notify"
	redisx "github.com/unablepath/memospark-notify/internal/redis"
	"github.com/unablepath/memospark-notify/internal/sender"
)

// DeliveryLog records delivery outcomes for the audit trail. Nil is
// allowed; outcomes are then only visible through events and logs.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, d *history.Delivery) error
}

// Config holds worker knobs. Zero values get defaults.
type Config struct {
	PollInterval time.Duration // how often due notifications are checked (default 5s)
	MaxRetries   int           // send attempts before giving up (default 3)
	StaleAfter   time.Duration // past-due notifications older than this are dropped unfired (default 1h)
	HeartbeatTTL time.Duration // liveness key expiry (default 15s)
}

// Worker owns the durable pending queue. It answers gateway requests on
// the request channel, fires due notifications through its sender, and
// publishes lifecycle events.
type Worker struct {
	client  *redisx.Client
	sender  sender.Sender
	log     DeliveryLog
	config  Config
	logger  *zap.Logger
	now     func() time.Time
	retries string
}

// New creates a worker. log may be nil.
func New(client *redisx.Client, snd sender.Sender, log DeliveryLog, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = time.Hour
	}
	if cfg.HeartbeatTTL == 0 {
		cfg.HeartbeatTTL = 15 * time.Second
	}

	return &Worker{
		client:  client,
		sender:  snd,
		log:     log,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		retries: "notify:worker:retries",
	}
}

// Start runs the request listener, heartbeat, and poll loop until ctx
// is cancelled.
func (w *Worker) Start(ctx context.Context) {
	go w.listenRequests(ctx)
	go w.heartbeat(ctx)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-ticker.C:
			w.processDue(ctx)
		}
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	interval := w.config.HeartbeatTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.refreshHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			// Let the key expire so the gateway falls back promptly.
			return
		case <-ticker.C:
			w.refreshHeartbeat(ctx)
		}
	}
}

func (w *Worker) refreshHeartbeat(ctx context.Context) {
	if err := w.client.RDB().Set(ctx, HeartbeatKey, w.now().Unix(), w.config.HeartbeatTTL).Err(); err != nil {
		w.logger.Warn("heartbeat refresh failed", zap.Error(err))
	}
}

func (w *Worker) listenRequests(ctx context.Context) {
	sub := w.client.RDB().Subscribe(ctx, RequestChannel)
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
			var req Request
			if err := json.Unmarshal([]byte(msg.Payload), &req); err != nil {
				w.logger.Warn("malformed worker request", zap.Error(err))
				continue
			}
			w.handleRequest(ctx, req)
		}
	}
}

func (w *Worker) handleRequest(ctx context.Context, req Request) {
	var resp Response

	switch req.Type {
	case MsgSchedule:
		resp = w.schedule(ctx, req.Notification)
	case MsgCancel:
		resp = w.cancel(ctx, req.ID)
	case MsgCancelAll:
		resp = w.cancelAll(ctx)
	case MsgList:
		resp = w.list(ctx)
	default:
		resp = Response{OK: false, Error: fmt.Sprintf("unknown request type: %s", req.Type)}
	}

	if req.ReplyTo == "" {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		w.logger.Error("marshal worker response failed", zap.Error(err))
		return
	}
	if err := w.client.RDB().Publish(ctx, req.ReplyTo, payload).Err(); err != nil {
		w.logger.Warn("publish worker response failed", zap.Error(err))
	}
}

func (w *Worker) schedule(ctx context.Context, n *notify.Notification) Response {
	if n == nil {
		return Response{OK: false, Error: "missing notification"}
	}

	data, err := json.Marshal(n)
	if err != nil {
		return Response{OK: false, Error: fmt.Sprintf("marshal notification: %v", err)}
	}

	id := n.ID.String()
	pipe := w.client.RDB().Pipeline()
	pipe.HSet(ctx, pendingItems, id, data)
	pipe.ZAdd(ctx, pendingByFireTime, redis.Z{
		Score:  float64(n.ScheduledAt.Unix()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return Response{OK: false, Error: fmt.Sprintf("persist notification: %v", err)}
	}

	w.logger.Info("notification scheduled in worker",
		zap.String("id", id),
		zap.Time("fire_at", n.ScheduledAt),
		zap.String("type", string(n.Type)),
	)
	return Response{OK: true}
}

func (w *Worker) cancel(ctx context.Context, id string) Response {
	removed, err := w.client.RDB().ZRem(ctx, pendingByFireTime, id).Result()
	if err != nil {
		return Response{OK: false, Error: fmt.Sprintf("cancel: %v", err)}
	}
	w.client.RDB().HDel(ctx, pendingItems, id)
	w.client.RDB().HDel(ctx, w.retries, id)

	return Response{OK: removed > 0}
}

func (w *Worker) cancelAll(ctx context.Context) Response {
	if err := w.client.RDB().Del(ctx, pendingByFireTime, pendingItems, w.retries).Err(); err != nil {
		return Response{OK: false, Error: fmt.Sprintf("cancel all: %v", err)}
	}
	return Response{OK: true}
}

func (w *Worker) list(ctx context.Context) Response {
	items, err := w.client.RDB().HGetAll(ctx, pendingItems).Result()
	if err != nil {
		return Response{OK: false, Error: fmt.Sprintf("list: %v", err)}
	}

	notifications := make([]*notify.Notification, 0, len(items))
	for id, raw := range items {
		var n notify.Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			w.logger.Warn("dropping undecodable pending item",
				zap.Error(err),
				zap.String("id", id),
			)
			continue
		}
		notifications = append(notifications, &n)
	}
	return Response{OK: true, Notifications: notifications}
}

func (w *Worker) processDue(ctx context.Context) {
	now := w.now()
	ids, err := w.client.RDB().ZRangeByScore(ctx, pendingByFireTime, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		w.logger.Error("failed to query due notifications", zap.Error(err))
		return
	}

	for _, id := range ids {
		w.processOne(ctx, id, now)
	}
}

func (w *Worker) processOne(ctx context.Context, id string, now time.Time) {
	raw, err := w.client.RDB().HGet(ctx, pendingItems, id).Result()
	if err != nil {
		// Orphaned zset member; drop it.
		w.client.RDB().ZRem(ctx, pendingByFireTime, id)
		return
	}

	var n notify.Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		w.logger.Warn("dropping undecodable notification", zap.Error(err), zap.String("id", id))
		w.remove(ctx, id)
		return
	}

	// Stale items are missed, not retried: a reminder arriving an hour
	// late is worse than no reminder.
	if now.Sub(n.ScheduledAt) > w.config.StaleAfter {
		w.logger.Info("dropping stale notification",
			zap.String("id", id),
			zap.Time("scheduled_at", n.ScheduledAt),
		)
		w.remove(ctx, id)
		w.publishEvent(ctx, Event{Type: EventFailed, Notification: &n, Reason: "stale"})
		w.record(ctx, &n, history.StatusMissed, "stale")
		return
	}

	if err := w.sender.Send(ctx, &n); err != nil {
		attempt, incErr := w.client.RDB().HIncrBy(ctx, w.retries, id, 1).Result()
		if incErr != nil {
			attempt = int64(w.config.MaxRetries)
		}

		w.logger.Error("failed to send notification",
			zap.Error(err),
			zap.String("id", id),
			zap.Int64("attempt", attempt),
		)

		if attempt >= int64(w.config.MaxRetries) {
			w.remove(ctx, id)
			w.publishEvent(ctx, Event{Type: EventFailed, Notification: &n, Reason: err.Error()})
			w.record(ctx, &n, history.StatusFailed, err.Error())
			return
		}

		// Re-arm with backoff; the item stays pending.
		next := now.Add(w.retryDelay(int(attempt)))
		w.client.RDB().ZAdd(ctx, pendingByFireTime, redis.Z{
			Score:  float64(next.Unix()),
			Member: id,
		})
		return
	}

	w.logger.Info("notification sent",
		zap.String("id", id),
		zap.String("channel", n.Channel),
	)
	w.remove(ctx, id)
	w.publishEvent(ctx, Event{Type: EventDelivered, Notification: &n})
	w.record(ctx, &n, history.StatusSent, "")
}

func (w *Worker) retryDelay(attempt int) time.Duration {
	delays := []time.Duration{
		30 * time.Second,
		2 * time.Minute,
		5 * time.Minute,
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

func (w *Worker) remove(ctx context.Context, id string) {
	pipe := w.client.RDB().Pipeline()
	pipe.ZRem(ctx, pendingByFireTime, id)
	pipe.HDel(ctx, pendingItems, id)
	pipe.HDel(ctx, w.retries, id)
	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.Warn("failed to remove pending notification", zap.Error(err), zap.String("id", id))
	}
}

func (w *Worker) publishEvent(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error("marshal worker event failed", zap.Error(err))
		return
	}
	if err := w.client.RDB().Publish(ctx, EventChannel, payload).Err(); err != nil {
		w.logger.Warn("publish worker event failed", zap.Error(err))
	}
}

func (w *Worker) record(ctx context.Context, n *notify.Notification, status history.Status, errMsg string) {
	if w.log == nil {
		return
	}
	d := &history.Delivery{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           string(n.Type),
		Channel:        n.Channel,
		Title:          n.Title,
		Status:         status,
		Error:          errMsg,
		ScheduledAt:    n.ScheduledAt,
		DeliveredAt:    w.now(),
	}
	if err := w.log.RecordDelivery(ctx, d); err != nil {
		w.logger.Warn("delivery history write failed", zap.Error(err))
	}
}
