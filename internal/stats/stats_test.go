package stats

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/store"
)

func TestRecorder_CountersIncrement(t *testing.T) {
	r := NewRecorder(store.NewMemory(), zap.NewNop(), nil)
	userID := uuid.New()
	ctx := context.Background()

	r.RecordScheduled(ctx, userID)
	r.RecordScheduled(ctx, userID)
	r.RecordSent(ctx, userID)
	r.RecordClicked(ctx, userID)
	r.RecordDismissed(ctx, userID)

	s := r.Load(ctx, userID)
	if s.Scheduled != 2 {
		t.Errorf("scheduled = %d, want 2", s.Scheduled)
	}
	if s.Sent != 1 || s.Clicked != 1 || s.Dismissed != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}
}

func TestRecorder_DailyRollover(t *testing.T) {
	kv := store.NewMemory()
	userID := uuid.New()
	ctx := context.Background()

	yesterday := time.Date(2026, 3, 9, 18, 0, 0, 0, time.UTC)
	today := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	clock := yesterday
	r := NewRecorder(kv, zap.NewNop(), func() time.Time { return clock })

	r.RecordSent(ctx, userID)
	r.RecordSent(ctx, userID)

	if got := r.Load(ctx, userID); got.Sent != 2 {
		t.Fatalf("sent = %d before rollover, want 2", got.Sent)
	}

	clock = today
	got := r.Load(ctx, userID)
	if got.Sent != 0 || got.Scheduled != 0 {
		t.Errorf("counters should be zeroed after rollover: %+v", got)
	}
	if !got.LastReset.Equal(today) {
		t.Errorf("last reset = %v, want %v", got.LastReset, today)
	}

	// Rollover must have been persisted back.
	got = r.Load(ctx, userID)
	if got.Sent != 0 {
		t.Errorf("rollover not persisted, sent = %d", got.Sent)
	}
}

func TestRecorder_SameDayNoReset(t *testing.T) {
	kv := store.NewMemory()
	userID := uuid.New()
	ctx := context.Background()

	morning := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)

	clock := morning
	r := NewRecorder(kv, zap.NewNop(), func() time.Time { return clock })

	r.RecordSent(ctx, userID)

	clock = evening
	if got := r.Load(ctx, userID); got.Sent != 1 {
		t.Errorf("same-day load reset counters: %+v", got)
	}
}

func TestRecorder_CorruptBlobStartsFresh(t *testing.T) {
	kv := store.NewMemory()
	userID := uuid.New()
	ctx := context.Background()

	_ = kv.Set(ctx, "stats:"+userID.String(), []byte("oops"))

	r := NewRecorder(kv, zap.NewNop(), nil)
	got := r.Load(ctx, userID)
	if got.Sent != 0 || got.Scheduled != 0 {
		t.Errorf("corrupt blob should start fresh: %+v", got)
	}
}
