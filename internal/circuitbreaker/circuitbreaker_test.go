package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/notify"
)

type flakySender struct {
	err   error
	calls int
}

func (f *flakySender) Send(ctx context.Context, n *notify.Notification) error {
	f.calls++
	return f.err
}

func (f *flakySender) SupportsChannel(channel string) bool { return true }

func testNotification() *notify.Notification {
	return &notify.Notification{ID: uuid.New(), UserID: uuid.New(), Channel: notify.ChannelPush}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(Config{Name: "push", MaxFailures: 3, RecoveryTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("request %d should be allowed while closed", i)
		}
		b.RecordFailure()
	}

	if b.CurrentState() != StateOpen {
		t.Errorf("state = %v, want open", b.CurrentState())
	}
	if b.Allow() {
		t.Error("open breaker should reject")
	}
}

func TestBreaker_ProbeAfterRecoveryTimeout(t *testing.T) {
	b := New(Config{Name: "push", MaxFailures: 1, RecoveryTimeout: 10 * time.Millisecond}, zap.NewNop())

	b.Allow()
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("should reject immediately after opening")
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("probe should be allowed after recovery timeout")
	}
	b.RecordSuccess()

	if b.CurrentState() != StateClosed {
		t.Errorf("state = %v after successful probe, want closed", b.CurrentState())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := New(Config{Name: "push", MaxFailures: 1, RecoveryTimeout: 10 * time.Millisecond}, zap.NewNop())

	b.Allow()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("probe should be allowed")
	}
	b.RecordFailure()

	if b.CurrentState() != StateOpen {
		t.Errorf("state = %v after failed probe, want open", b.CurrentState())
	}
}

func TestProtectedSender_FailsFastWhenOpen(t *testing.T) {
	downstream := &flakySender{err: errors.New("vendor down")}
	b := New(Config{Name: "push", MaxFailures: 2, RecoveryTimeout: time.Minute}, zap.NewNop())
	p := NewProtectedSender(downstream, b, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := p.Send(ctx, testNotification()); err == nil {
			t.Fatal("expected downstream error")
		}
	}

	err := p.Send(ctx, testNotification())
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if downstream.calls != 2 {
		t.Errorf("downstream called %d times, want 2 (fail fast)", downstream.calls)
	}
}
