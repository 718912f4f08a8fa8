package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/history"
	"github.com/unablepath/memospark-notify/internal/notify"
	redisx "github.com/unablepath/memospark-notify/internal/redis"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*notify.Notification
	err  error
}

func (s *fakeSender) Send(ctx context.Context, n *notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *fakeSender) SupportsChannel(channel string) bool { return true }

type fakeLog struct {
	mu      sync.Mutex
	entries []*history.Delivery
}

func (l *fakeLog) RecordDelivery(ctx context.Context, d *history.Delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, d)
	return nil
}

func setupTest(t *testing.T, snd *fakeSender, log DeliveryLog) (*Worker, *redisx.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisx.NewFromAddr(mr.Addr(), zap.NewNop())
	t.Cleanup(func() { client.Close() })

	w := New(client, snd, log, Config{StaleAfter: time.Hour, MaxRetries: 3}, zap.NewNop())
	return w, client
}

func queueNotification(at time.Time) *notify.Notification {
	return &notify.Notification{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Type:        notify.TypeTaskDue,
		Priority:    notify.PriorityHigh,
		Channel:     notify.ChannelPush,
		Title:       "Essay draft due",
		ScheduledAt: at,
	}
}

func TestScheduleAndList(t *testing.T) {
	w, _ := setupTest(t, &fakeSender{}, nil)
	ctx := context.Background()

	n := queueNotification(time.Now().Add(time.Hour))
	if resp := w.schedule(ctx, n); !resp.OK {
		t.Fatalf("schedule failed: %s", resp.Error)
	}

	resp := w.list(ctx)
	if !resp.OK {
		t.Fatalf("list failed: %s", resp.Error)
	}
	if len(resp.Notifications) != 1 {
		t.Fatalf("list returned %d notifications, want 1", len(resp.Notifications))
	}
	if resp.Notifications[0].ID != n.ID {
		t.Errorf("listed id = %s, want %s", resp.Notifications[0].ID, n.ID)
	}
}

func TestScheduleRejectsNil(t *testing.T) {
	w, _ := setupTest(t, &fakeSender{}, nil)

	if resp := w.schedule(context.Background(), nil); resp.OK {
		t.Fatal("schedule accepted a nil notification")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	w, _ := setupTest(t, &fakeSender{}, nil)
	ctx := context.Background()

	n := queueNotification(time.Now().Add(time.Hour))
	w.schedule(ctx, n)

	if resp := w.cancel(ctx, n.ID.String()); !resp.OK {
		t.Fatal("first cancel returned not OK")
	}
	if resp := w.cancel(ctx, n.ID.String()); resp.OK {
		t.Fatal("second cancel returned OK")
	}
	if resp := w.list(ctx); len(resp.Notifications) != 0 {
		t.Errorf("list returned %d after cancel, want 0", len(resp.Notifications))
	}
}

func TestCancelAll(t *testing.T) {
	w, _ := setupTest(t, &fakeSender{}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		w.schedule(ctx, queueNotification(time.Now().Add(time.Hour)))
	}

	if resp := w.cancelAll(ctx); !resp.OK {
		t.Fatalf("cancelAll failed: %s", resp.Error)
	}
	if resp := w.list(ctx); len(resp.Notifications) != 0 {
		t.Errorf("list returned %d after cancelAll, want 0", len(resp.Notifications))
	}
}

func TestProcessDueDelivers(t *testing.T) {
	snd := &fakeSender{}
	log := &fakeLog{}
	w, _ := setupTest(t, snd, log)
	ctx := context.Background()

	due := queueNotification(time.Now().Add(-time.Second))
	pending := queueNotification(time.Now().Add(time.Hour))
	w.schedule(ctx, due)
	w.schedule(ctx, pending)

	w.processDue(ctx)

	if len(snd.sent) != 1 {
		t.Fatalf("sender got %d sends, want 1", len(snd.sent))
	}
	if snd.sent[0].ID != due.ID {
		t.Errorf("sent id = %s, want %s", snd.sent[0].ID, due.ID)
	}

	resp := w.list(ctx)
	if len(resp.Notifications) != 1 || resp.Notifications[0].ID != pending.ID {
		t.Error("delivered notification not removed, or pending one lost")
	}

	if len(log.entries) != 1 || log.entries[0].Status != history.StatusSent {
		t.Error("delivery not recorded as sent")
	}
}

func TestProcessDueDropsStale(t *testing.T) {
	snd := &fakeSender{}
	log := &fakeLog{}
	w, _ := setupTest(t, snd, log)
	ctx := context.Background()

	stale := queueNotification(time.Now().Add(-2 * time.Hour))
	w.schedule(ctx, stale)

	w.processDue(ctx)

	if len(snd.sent) != 0 {
		t.Error("stale notification was sent")
	}
	if resp := w.list(ctx); len(resp.Notifications) != 0 {
		t.Error("stale notification not removed")
	}
	if len(log.entries) != 1 || log.entries[0].Status != history.StatusMissed {
		t.Error("stale drop not recorded as missed")
	}
}

func TestProcessDueRetriesWithBackoff(t *testing.T) {
	snd := &fakeSender{err: errors.New("push vendor 503")}
	w, client := setupTest(t, snd, nil)
	ctx := context.Background()

	n := queueNotification(time.Now().Add(-time.Second))
	w.schedule(ctx, n)

	w.processDue(ctx)

	// Still pending, re-armed in the future.
	resp := w.list(ctx)
	if len(resp.Notifications) != 1 {
		t.Fatalf("list returned %d after failed send, want 1", len(resp.Notifications))
	}
	score, err := client.RDB().ZScore(ctx, pendingByFireTime, n.ID.String()).Result()
	if err != nil {
		t.Fatalf("ZScore: %v", err)
	}
	if int64(score) <= time.Now().Unix() {
		t.Error("failed notification not re-armed in the future")
	}

	attempts, err := client.RDB().HGet(ctx, w.retries, n.ID.String()).Int()
	if err != nil || attempts != 1 {
		t.Errorf("retry count = %d (%v), want 1", attempts, err)
	}
}

func TestProcessDueGivesUpAfterMaxRetries(t *testing.T) {
	snd := &fakeSender{err: errors.New("push vendor 503")}
	log := &fakeLog{}
	w, client := setupTest(t, snd, log)
	ctx := context.Background()

	n := queueNotification(time.Now().Add(-time.Second))
	w.schedule(ctx, n)

	// Two failures already on record; the next one exhausts the budget.
	if err := client.RDB().HSet(ctx, w.retries, n.ID.String(), 2).Err(); err != nil {
		t.Fatalf("seed retries: %v", err)
	}

	w.processDue(ctx)

	if resp := w.list(ctx); len(resp.Notifications) != 0 {
		t.Error("exhausted notification not removed")
	}
	if len(log.entries) != 1 || log.entries[0].Status != history.StatusFailed {
		t.Error("exhausted notification not recorded as failed")
	}
}

func TestRetryDelayBacksOff(t *testing.T) {
	w, _ := setupTest(t, &fakeSender{}, nil)

	if d := w.retryDelay(1); d != 30*time.Second {
		t.Errorf("first retry delay = %v", d)
	}
	if d := w.retryDelay(2); d != 2*time.Minute {
		t.Errorf("second retry delay = %v", d)
	}
	// Past the table it stays at the largest delay.
	if d := w.retryDelay(9); d != 5*time.Minute {
		t.Errorf("late retry delay = %v", d)
	}
}
