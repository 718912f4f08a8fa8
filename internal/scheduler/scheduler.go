// Package scheduler is the orchestration layer: it validates schedule
// requests against user settings, permission state, and capacity,
// adjusts fire times around quiet hours, and hands accepted
// notifications to the first delivery backend that will take them.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/backend"
	"github.com/unablepath/memospark-notify/internal/history"
	"github.com/unablepath/memospark-notify/internal/metrics"
	"github.com/unablepath/memospark-notify/internal/notify"
	"github.com/unablepath/memospark-notify/internal/probe"
	"github.com/unablepath/memospark-notify/internal/sender"
	"github.com/unablepath/memospark-notify/internal/settings"
	"github.com/unablepath/memospark-notify/internal/stats"
)

// Rejection reasons returned by Schedule and used as metric labels.
const (
	ReasonInvalid      = "invalid"
	ReasonDisabled     = "disabled"
	ReasonTypeDisabled = "type_disabled"
	ReasonPermission   = "permission_not_granted"
	ReasonQueueFull    = "queue_full"
	ReasonDailyLimit   = "daily_limit"
	ReasonNoBackend    = "no_backend"
)

// DeliveryLog records delivery outcomes for the audit trail. Nil is
// allowed.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, d *history.Delivery) error
}

// Config holds scheduler knobs. Zero values get defaults.
type Config struct {
	MaxQueueSize  int           // pending notifications held at once (default 64)
	SweepInterval time.Duration // how often stale queue entries are reaped (default 60s)
	StaleAfter    time.Duration // past-due entries older than this are dropped unfired (default 1h)
}

// QueueItem is one pending notification as the scheduler tracks it.
type QueueItem struct {
	Notification *notify.Notification `json:"notification"`
	Backend      string               `json:"backend"`
	FireAt       time.Time            `json:"fire_at"`
	EnqueuedAt   time.Time            `json:"enqueued_at"`
}

// Scheduler accepts, defers, cancels, and sweeps notifications. One
// instance serves all users of a gateway process.
type Scheduler struct {
	settings *settings.Store
	stats    *stats.Recorder
	probe    *probe.Probe
	backends []backend.DeliveryBackend
	direct   sender.Sender
	log      DeliveryLog
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	queue map[string]*QueueItem
}

// New creates a scheduler. backends are tried in order; direct is used
// for past-due notifications that must go out immediately. log may be
// nil, now nil means time.Now.
func New(
	st *settings.Store,
	rec *stats.Recorder,
	pr *probe.Probe,
	backends []backend.DeliveryBackend,
	direct sender.Sender,
	log DeliveryLog,
	cfg Config,
	logger *zap.Logger,
	now func() time.Time,
) *Scheduler {
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = 64
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = time.Hour
	}
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		settings: st,
		stats:    rec,
		probe:    pr,
		backends: backends,
		direct:   direct,
		log:      log,
		config:   cfg,
		logger:   logger,
		now:      now,
		queue:    make(map[string]*QueueItem),
	}
}

// SetBackends installs the delivery backends after construction. The
// backends are built with this scheduler's hooks, so wiring happens in
// two steps: scheduler first, then backends, then this call.
func (s *Scheduler) SetBackends(backends []backend.DeliveryBackend) {
	s.backends = backends
}

// Schedule runs the acceptance checks and enqueues the notification.
// It returns false with a rejection reason when the notification will
// never be delivered; callers surface the reason to the client.
func (s *Scheduler) Schedule(ctx context.Context, n *notify.Notification) (bool, string) {
	n.ApplyDefaults()
	if err := n.Validate(); err != nil {
		s.reject(n, ReasonInvalid, zap.Error(err))
		return false, ReasonInvalid
	}

	cfg := s.settings.Load(ctx, n.UserID)
	if !cfg.Enabled {
		s.reject(n, ReasonDisabled)
		return false, ReasonDisabled
	}
	if !cfg.TypeEnabled(n.Type) {
		s.reject(n, ReasonTypeDisabled)
		return false, ReasonTypeDisabled
	}
	if !s.probe.Granted(ctx, n.UserID) {
		s.reject(n, ReasonPermission)
		return false, ReasonPermission
	}

	s.mu.Lock()
	full := len(s.queue) >= s.config.MaxQueueSize
	s.mu.Unlock()
	if full {
		s.reject(n, ReasonQueueFull)
		return false, ReasonQueueFull
	}

	day := s.stats.Load(ctx, n.UserID)
	if day.Sent >= cfg.MaxDaily {
		s.reject(n, ReasonDailyLimit, zap.Int("sent_today", day.Sent))
		return false, ReasonDailyLimit
	}

	// A notification already past due goes out right now, quiet hours
	// or not.
	now := s.now()
	fireAt := n.ScheduledAt
	if !fireAt.After(now) {
		s.stats.RecordScheduled(ctx, n.UserID)
		metrics.RecordScheduled(string(n.Type), "immediate")
		s.sendNow(ctx, n)
		return true, ""
	}

	if cfg.QuietHours.Contains(fireAt) {
		fireAt = cfg.QuietHours.NextEnd(fireAt)
		metrics.RecordQuietHoursDeferral()
		s.logger.Info("fire time deferred past quiet hours",
			zap.String("id", n.ID.String()),
			zap.Time("original", n.ScheduledAt),
			zap.Time("deferred", fireAt),
		)
		n.ScheduledAt = fireAt
	}

	chosen := ""
	for i, b := range s.backends {
		if !b.TrySchedule(ctx, n) {
			continue
		}
		chosen = b.Name()
		if i > 0 {
			metrics.RecordBackendFallback()
			s.logger.Debug("primary backend declined, fell back",
				zap.String("id", n.ID.String()),
				zap.String("backend", chosen),
			)
		}
		break
	}
	if chosen == "" {
		s.reject(n, ReasonNoBackend)
		return false, ReasonNoBackend
	}

	s.mu.Lock()
	s.queue[n.ID.String()] = &QueueItem{
		Notification: n,
		Backend:      chosen,
		FireAt:       fireAt,
		EnqueuedAt:   now,
	}
	s.mu.Unlock()

	s.stats.RecordScheduled(ctx, n.UserID)
	metrics.RecordScheduled(string(n.Type), chosen)
	s.logger.Info("notification scheduled",
		zap.String("id", n.ID.String()),
		zap.String("type", string(n.Type)),
		zap.String("backend", chosen),
		zap.Time("fire_at", fireAt),
	)
	return true, ""
}

// Cancel removes a pending notification everywhere it may be held.
// It returns true only when something was actually cancelled, so a
// second call with the same id reports false.
func (s *Scheduler) Cancel(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, tracked := s.queue[id]
	delete(s.queue, id)
	s.mu.Unlock()

	cancelled := false
	for _, b := range s.backends {
		if b.Cancel(ctx, id) {
			cancelled = true
			break
		}
	}

	if tracked || cancelled {
		s.logger.Info("notification cancelled", zap.String("id", id))
		return true
	}
	return false
}

// CancelAll drops every pending notification and returns how many were
// tracked.
func (s *Scheduler) CancelAll(ctx context.Context) int {
	s.mu.Lock()
	n := len(s.queue)
	ids := make([]string, 0, n)
	for id := range s.queue {
		ids = append(ids, id)
	}
	s.queue = make(map[string]*QueueItem)
	s.mu.Unlock()

	for _, id := range ids {
		for _, b := range s.backends {
			if b.Cancel(ctx, id) {
				break
			}
		}
	}
	return n
}

// Queued returns the pending notifications ordered by fire time. The
// backends are asked directly and deduplicated by id, first backend
// wins, so the worker's durable queue overrides the in-memory view.
// The map only contributes enqueue metadata; entries no backend still
// reports (delivered or dropped while an event was missed) are
// excluded, and entries scheduled by another gateway instance appear.
func (s *Scheduler) Queued(ctx context.Context) []*QueueItem {
	s.mu.Lock()
	tracked := make(map[string]*QueueItem, len(s.queue))
	for id, item := range s.queue {
		tracked[id] = item
	}
	s.mu.Unlock()

	seen := make(map[string]bool)
	items := make([]*QueueItem, 0, len(tracked))
	for _, b := range s.backends {
		for _, n := range b.List(ctx) {
			id := n.ID.String()
			if seen[id] {
				continue
			}
			seen[id] = true
			if item, ok := tracked[id]; ok {
				items = append(items, item)
				continue
			}
			items = append(items, &QueueItem{
				Notification: n,
				Backend:      b.Name(),
				FireAt:       n.ScheduledAt,
				EnqueuedAt:   s.now(),
			})
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].FireAt.Before(items[j].FireAt)
	})
	return items
}

// Start rehydrates the queue from the backends and runs the staleness
// sweep until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.rehydrate(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// rehydrate repopulates the in-memory queue view after a restart from
// whatever the backends still hold.
func (s *Scheduler) rehydrate(ctx context.Context) {
	for _, b := range s.backends {
		for _, n := range b.List(ctx) {
			id := n.ID.String()
			s.mu.Lock()
			if _, ok := s.queue[id]; !ok {
				s.queue[id] = &QueueItem{
					Notification: n,
					Backend:      b.Name(),
					FireAt:       n.ScheduledAt,
					EnqueuedAt:   s.now(),
				}
			}
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	recovered := len(s.queue)
	s.mu.Unlock()
	if recovered > 0 {
		s.logger.Info("recovered pending notifications", zap.Int("count", recovered))
	}
}

// sweep drops queue entries that are long past due without having
// fired. A reminder arriving an hour late is worse than no reminder.
func (s *Scheduler) sweep(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var stale []*QueueItem
	for id, item := range s.queue {
		if now.Sub(item.FireAt) > s.config.StaleAfter {
			stale = append(stale, item)
			delete(s.queue, id)
		}
	}
	s.mu.Unlock()

	for _, item := range stale {
		id := item.Notification.ID.String()
		for _, b := range s.backends {
			if b.Cancel(ctx, id) {
				break
			}
		}
		metrics.RecordStaleSweep()
		metrics.RecordDelivered(string(history.StatusMissed), item.Notification.Channel)
		s.record(ctx, item.Notification, history.StatusMissed, "stale")
		s.logger.Info("swept stale notification",
			zap.String("id", id),
			zap.Time("fire_at", item.FireAt),
		)
	}
}

// sendNow delivers a past-due notification immediately through the
// direct sender. Acceptance was already decided; a send failure here is
// a delivery outcome, not a rejection.
func (s *Scheduler) sendNow(ctx context.Context, n *notify.Notification) {
	if err := s.direct.Send(ctx, n); err != nil {
		s.logger.Error("immediate send failed",
			zap.Error(err),
			zap.String("id", n.ID.String()),
		)
		metrics.RecordDelivered(string(history.StatusFailed), n.Channel)
		s.record(ctx, n, history.StatusFailed, err.Error())
		return
	}

	s.stats.RecordSent(ctx, n.UserID)
	metrics.RecordDelivered(string(history.StatusSent), n.Channel)
	s.record(ctx, n, history.StatusSent, "")
	s.logger.Info("past-due notification sent immediately",
		zap.String("id", n.ID.String()),
		zap.String("channel", n.Channel),
	)
}

// ForegroundHooks wires the in-process timer backend into stats,
// metrics, and the audit trail.
func (s *Scheduler) ForegroundHooks() backend.Hooks {
	return s.hooks(true)
}

// BackgroundHooks wires worker events into stats and metrics. The
// worker writes the audit trail itself, so history is skipped here.
func (s *Scheduler) BackgroundHooks() backend.Hooks {
	return s.hooks(false)
}

func (s *Scheduler) hooks(recordHistory bool) backend.Hooks {
	return backend.Hooks{
		OnDelivered: func(n *notify.Notification) {
			s.drop(n.ID.String())
			ctx := context.Background()
			s.stats.RecordSent(ctx, n.UserID)
			metrics.RecordDelivered(string(history.StatusSent), n.Channel)
			if recordHistory {
				s.record(ctx, n, history.StatusSent, "")
			}
		},
		OnFailed: func(n *notify.Notification, reason string) {
			s.drop(n.ID.String())
			ctx := context.Background()
			status := history.StatusFailed
			if reason == "stale" {
				status = history.StatusMissed
			}
			metrics.RecordDelivered(string(status), n.Channel)
			if recordHistory {
				s.record(ctx, n, status, reason)
			}
			s.logger.Warn("notification delivery failed",
				zap.String("id", n.ID.String()),
				zap.String("reason", reason),
			)
		},
	}
}

func (s *Scheduler) drop(id string) {
	s.mu.Lock()
	delete(s.queue, id)
	s.mu.Unlock()
}

func (s *Scheduler) reject(n *notify.Notification, reason string, fields ...zap.Field) {
	metrics.RecordRejected(reason)
	fields = append(fields,
		zap.String("id", n.ID.String()),
		zap.String("type", string(n.Type)),
		zap.String("reason", reason),
	)
	s.logger.Info("notification rejected", fields...)
}

func (s *Scheduler) record(ctx context.Context, n *notify.Notification, status history.Status, errMsg string) {
	if s.log == nil {
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
		DeliveredAt:    s.now(),
	}
	if err := s.log.RecordDelivery(ctx, d); err != nil {
		s.logger.Warn("delivery history write failed", zap.Error(err))
	}
}
