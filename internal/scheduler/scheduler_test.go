package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/backend"
	"github.com/unablepath/memospark-notify/internal/notify"
	"github.com/unablepath/memospark-notify/internal/probe"
	"github.com/unablepath/memospark-notify/internal/settings"
	"github.com/unablepath/memospark-notify/internal/stats"
	"github.com/unablepath/memospark-notify/internal/store"
)

type stubBackend struct {
	mu        sync.Mutex
	name      string
	accept    bool
	scheduled []*notify.Notification
	held      map[string]bool
}

func newStubBackend(name string, accept bool) *stubBackend {
	return &stubBackend{name: name, accept: accept, held: make(map[string]bool)}
}

func (b *stubBackend) TrySchedule(ctx context.Context, n *notify.Notification) bool {
	if !b.accept {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scheduled = append(b.scheduled, n)
	b.held[n.ID.String()] = true
	return true
}

func (b *stubBackend) Cancel(ctx context.Context, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.held[id] {
		return false
	}
	delete(b.held, id)
	return true
}

func (b *stubBackend) List(ctx context.Context) []*notify.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*notify.Notification
	for _, n := range b.scheduled {
		if b.held[n.ID.String()] {
			out = append(out, n)
		}
	}
	return out
}

func (b *stubBackend) Name() string { return b.name }

type stubSender struct {
	mu   sync.Mutex
	sent []*notify.Notification
	err  error
}

func (s *stubSender) Send(ctx context.Context, n *notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *stubSender) SupportsChannel(channel string) bool { return true }

type fixture struct {
	sched    *Scheduler
	settings *settings.Store
	stats    *stats.Recorder
	probe    *probe.Probe
	primary  *stubBackend
	fallback *stubBackend
	direct   *stubSender
	user     uuid.UUID
	now      time.Time
}

func setupTest(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		primary:  newStubBackend("background", true),
		fallback: newStubBackend("foreground", true),
		direct:   &stubSender{},
		user:     uuid.New(),
		now:      time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	logger := zap.NewNop()
	kv := store.NewMemory()
	f.settings = settings.NewStore(kv, logger)
	f.stats = stats.NewRecorder(kv, logger, clock)
	f.probe = probe.New(kv, logger, true, clock)

	if err := f.probe.SetPermission(context.Background(), f.user, settings.PermissionGranted); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}

	f.sched = New(
		f.settings,
		f.stats,
		f.probe,
		[]backend.DeliveryBackend{f.primary, f.fallback},
		f.direct,
		nil,
		cfg,
		logger,
		clock,
	)
	return f
}

func (f *fixture) notification(at time.Time) *notify.Notification {
	return &notify.Notification{
		ID:          uuid.New(),
		UserID:      f.user,
		Type:        notify.TypeTaskDue,
		Priority:    notify.PriorityMedium,
		Channel:     notify.ChannelPush,
		Title:       "Math homework due",
		Body:        "Due in 15 minutes",
		ScheduledAt: at,
	}
}

func TestScheduleAccepts(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	n := f.notification(f.now.Add(30 * time.Minute))
	ok, reason := f.sched.Schedule(ctx, n)
	if !ok {
		t.Fatalf("Schedule rejected: %s", reason)
	}

	if len(f.primary.scheduled) != 1 {
		t.Fatalf("primary backend got %d notifications, want 1", len(f.primary.scheduled))
	}
	items := f.sched.Queued(ctx)
	if len(items) != 1 {
		t.Fatalf("Queued returned %d items, want 1", len(items))
	}
	if items[0].Backend != "background" {
		t.Errorf("item backend = %q, want background", items[0].Backend)
	}

	day := f.stats.Load(ctx, f.user)
	if day.Scheduled != 1 {
		t.Errorf("scheduled counter = %d, want 1", day.Scheduled)
	}
}

func TestScheduleRejectsWhenDisabled(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	disabled := false
	if _, err := f.settings.Apply(ctx, f.user, settings.Update{Enabled: &disabled}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	ok, reason := f.sched.Schedule(ctx, f.notification(f.now.Add(time.Minute)))
	if ok {
		t.Fatal("Schedule accepted with notifications disabled")
	}
	if reason != ReasonDisabled {
		t.Errorf("reason = %q, want %q", reason, ReasonDisabled)
	}
}

func TestScheduleRejectsDisabledType(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	upd := settings.Update{
		Types: map[notify.Type]*settings.TypeSettings{
			notify.TypeTaskDue: {Enabled: false},
		},
	}
	if _, err := f.settings.Apply(ctx, f.user, upd); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	ok, reason := f.sched.Schedule(ctx, f.notification(f.now.Add(time.Minute)))
	if ok {
		t.Fatal("Schedule accepted a disabled type")
	}
	if reason != ReasonTypeDisabled {
		t.Errorf("reason = %q, want %q", reason, ReasonTypeDisabled)
	}
}

func TestScheduleRejectsWithoutPermission(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	if err := f.probe.SetPermission(ctx, f.user, settings.PermissionDenied); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}

	ok, reason := f.sched.Schedule(ctx, f.notification(f.now.Add(time.Minute)))
	if ok {
		t.Fatal("Schedule accepted without granted permission")
	}
	if reason != ReasonPermission {
		t.Errorf("reason = %q, want %q", reason, ReasonPermission)
	}
}

func TestScheduleRejectsWhenQueueFull(t *testing.T) {
	f := setupTest(t, Config{MaxQueueSize: 1})
	ctx := context.Background()

	if ok, reason := f.sched.Schedule(ctx, f.notification(f.now.Add(time.Minute))); !ok {
		t.Fatalf("first Schedule rejected: %s", reason)
	}
	ok, reason := f.sched.Schedule(ctx, f.notification(f.now.Add(2*time.Minute)))
	if ok {
		t.Fatal("Schedule accepted past the queue cap")
	}
	if reason != ReasonQueueFull {
		t.Errorf("reason = %q, want %q", reason, ReasonQueueFull)
	}
}

func TestScheduleRejectsAtDailyLimit(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	// Defaults cap at 10 sends per day.
	for i := 0; i < 10; i++ {
		f.stats.RecordSent(ctx, f.user)
	}

	ok, reason := f.sched.Schedule(ctx, f.notification(f.now.Add(time.Minute)))
	if ok {
		t.Fatal("Schedule accepted past the daily limit")
	}
	if reason != ReasonDailyLimit {
		t.Errorf("reason = %q, want %q", reason, ReasonDailyLimit)
	}
}

func TestSchedulePastDueSendsImmediately(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	n := f.notification(f.now.Add(-time.Minute))
	ok, reason := f.sched.Schedule(ctx, n)
	if !ok {
		t.Fatalf("Schedule rejected: %s", reason)
	}

	if len(f.direct.sent) != 1 {
		t.Fatalf("direct sender got %d sends, want 1", len(f.direct.sent))
	}
	if len(f.primary.scheduled) != 0 {
		t.Error("past-due notification reached a backend")
	}
	if len(f.sched.Queued(ctx)) != 0 {
		t.Error("past-due notification left in queue")
	}

	day := f.stats.Load(ctx, f.user)
	if day.Sent != 1 {
		t.Errorf("sent counter = %d, want 1", day.Sent)
	}
}

func TestSchedulePastDueInsideQuietHoursSendsImmediately(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	qh := settings.QuietHours{Enabled: true, Start: "22:00", End: "07:00"}
	if _, err := f.settings.Apply(ctx, f.user, settings.Update{QuietHours: &qh}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// 22:15 is inside the window, but the clock already reads 22:30:
	// past due wins over the quiet-hours deferral.
	f.now = time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC)
	at := time.Date(2025, 3, 10, 22, 15, 0, 0, time.UTC)
	n := f.notification(at)

	ok, reason := f.sched.Schedule(ctx, n)
	if !ok {
		t.Fatalf("Schedule rejected: %s", reason)
	}

	if len(f.direct.sent) != 1 {
		t.Fatalf("direct sends = %d, want 1", len(f.direct.sent))
	}
	if len(f.primary.scheduled) != 0 {
		t.Errorf("backend got %d notifications, want 0", len(f.primary.scheduled))
	}
	if !n.ScheduledAt.Equal(at) {
		t.Errorf("ScheduledAt rewritten to %v", n.ScheduledAt)
	}
}

func TestScheduleDefersQuietHours(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	qh := settings.QuietHours{Enabled: true, Start: "22:00", End: "07:00"}
	if _, err := f.settings.Apply(ctx, f.user, settings.Update{QuietHours: &qh}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// 22:30 falls inside the wrapping window; the fire time moves to
	// 07:00 the next morning.
	f.now = time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC)
	n := f.notification(time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC))

	ok, reason := f.sched.Schedule(ctx, n)
	if !ok {
		t.Fatalf("Schedule rejected: %s", reason)
	}

	want := time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC)
	if !n.ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want %v", n.ScheduledAt, want)
	}
	if len(f.direct.sent) != 0 {
		t.Error("deferred notification was sent immediately")
	}
	if len(f.primary.scheduled) != 1 {
		t.Fatalf("primary backend got %d notifications, want 1", len(f.primary.scheduled))
	}
}

func TestScheduleFallsBackWhenPrimaryDeclines(t *testing.T) {
	f := setupTest(t, Config{})
	f.primary.accept = false
	ctx := context.Background()

	ok, reason := f.sched.Schedule(ctx, f.notification(f.now.Add(time.Minute)))
	if !ok {
		t.Fatalf("Schedule rejected: %s", reason)
	}

	if len(f.fallback.scheduled) != 1 {
		t.Fatalf("fallback backend got %d notifications, want 1", len(f.fallback.scheduled))
	}
	items := f.sched.Queued(ctx)
	if len(items) != 1 || items[0].Backend != "foreground" {
		t.Errorf("queued on %q, want foreground", items[0].Backend)
	}
}

func TestScheduleRejectsWhenAllBackendsDecline(t *testing.T) {
	f := setupTest(t, Config{})
	f.primary.accept = false
	f.fallback.accept = false

	ok, reason := f.sched.Schedule(context.Background(), f.notification(f.now.Add(time.Minute)))
	if ok {
		t.Fatal("Schedule accepted with no backend available")
	}
	if reason != ReasonNoBackend {
		t.Errorf("reason = %q, want %q", reason, ReasonNoBackend)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	n := f.notification(f.now.Add(time.Minute))
	if ok, reason := f.sched.Schedule(ctx, n); !ok {
		t.Fatalf("Schedule rejected: %s", reason)
	}

	if !f.sched.Cancel(ctx, n.ID.String()) {
		t.Fatal("first Cancel returned false")
	}
	if f.sched.Cancel(ctx, n.ID.String()) {
		t.Fatal("second Cancel returned true")
	}
	if len(f.sched.Queued(ctx)) != 0 {
		t.Error("cancelled notification left in queue")
	}
}

func TestCancelAll(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n := f.notification(f.now.Add(time.Duration(i+1) * time.Minute))
		if ok, reason := f.sched.Schedule(ctx, n); !ok {
			t.Fatalf("Schedule rejected: %s", reason)
		}
	}

	if got := f.sched.CancelAll(ctx); got != 3 {
		t.Errorf("CancelAll = %d, want 3", got)
	}
	if len(f.sched.Queued(ctx)) != 0 {
		t.Error("queue not empty after CancelAll")
	}
	if len(f.primary.held) != 0 {
		t.Error("backend still holds notifications after CancelAll")
	}
}

func TestQueuedOrdersByFireTime(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	later := f.notification(f.now.Add(time.Hour))
	sooner := f.notification(f.now.Add(time.Minute))
	for _, n := range []*notify.Notification{later, sooner} {
		if ok, reason := f.sched.Schedule(ctx, n); !ok {
			t.Fatalf("Schedule rejected: %s", reason)
		}
	}

	items := f.sched.Queued(ctx)
	if len(items) != 2 {
		t.Fatalf("Queued returned %d items, want 2", len(items))
	}
	if items[0].Notification.ID != sooner.ID {
		t.Error("Queued not ordered by fire time")
	}
}

func TestQueuedReflectsBackendState(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	// Held by the backend but unknown here, as after a schedule through
	// another gateway instance.
	orphan := f.notification(f.now.Add(10 * time.Minute))
	f.primary.TrySchedule(ctx, orphan)

	// Tracked here but already dropped by the worker, with the
	// lifecycle event lost in transit.
	dropped := f.notification(f.now.Add(time.Minute))
	if ok, reason := f.sched.Schedule(ctx, dropped); !ok {
		t.Fatalf("Schedule rejected: %s", reason)
	}
	f.primary.Cancel(ctx, dropped.ID.String())

	items := f.sched.Queued(ctx)
	if len(items) != 1 {
		t.Fatalf("Queued returned %d items, want 1", len(items))
	}
	if items[0].Notification.ID != orphan.ID {
		t.Error("Queued missing the backend-held notification")
	}
	if items[0].Backend != "background" {
		t.Errorf("item backend = %q, want background", items[0].Backend)
	}
}

func TestSweepDropsStaleEntries(t *testing.T) {
	f := setupTest(t, Config{StaleAfter: time.Hour})
	ctx := context.Background()

	n := f.notification(f.now.Add(time.Minute))
	if ok, reason := f.sched.Schedule(ctx, n); !ok {
		t.Fatalf("Schedule rejected: %s", reason)
	}

	// Two hours later the entry is past StaleAfter and gets reaped.
	f.now = f.now.Add(2 * time.Hour)
	f.sched.sweep(ctx)

	if len(f.sched.Queued(ctx)) != 0 {
		t.Error("stale entry survived the sweep")
	}
	if f.primary.held[n.ID.String()] {
		t.Error("stale entry not cancelled on the backend")
	}
}

func TestSweepKeepsFreshEntries(t *testing.T) {
	f := setupTest(t, Config{StaleAfter: time.Hour})
	ctx := context.Background()

	n := f.notification(f.now.Add(30 * time.Minute))
	if ok, reason := f.sched.Schedule(ctx, n); !ok {
		t.Fatalf("Schedule rejected: %s", reason)
	}

	f.sched.sweep(ctx)

	if len(f.sched.Queued(ctx)) != 1 {
		t.Error("fresh entry dropped by the sweep")
	}
}

func TestRehydrateRecoversBackendState(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	n := f.notification(f.now.Add(time.Minute))
	f.primary.TrySchedule(ctx, n)

	f.sched.rehydrate(ctx)

	items := f.sched.Queued(ctx)
	if len(items) != 1 {
		t.Fatalf("Queued returned %d items after rehydrate, want 1", len(items))
	}
	if items[0].Backend != "background" {
		t.Errorf("recovered item backend = %q, want background", items[0].Backend)
	}
}

func TestHooksDeliveredUpdatesStats(t *testing.T) {
	f := setupTest(t, Config{})
	ctx := context.Background()

	n := f.notification(f.now.Add(time.Minute))
	if ok, reason := f.sched.Schedule(ctx, n); !ok {
		t.Fatalf("Schedule rejected: %s", reason)
	}

	// A backend drops a fired notification before invoking hooks.
	f.primary.Cancel(ctx, n.ID.String())
	f.sched.ForegroundHooks().OnDelivered(n)

	if len(f.sched.Queued(ctx)) != 0 {
		t.Error("delivered notification left in queue")
	}
	day := f.stats.Load(ctx, f.user)
	if day.Sent != 1 {
		t.Errorf("sent counter = %d, want 1", day.Sent)
	}
}
