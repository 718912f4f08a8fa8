package probe

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/settings"
	"github.com/unablepath/memospark-notify/internal/store"
)

func TestProbe_DefaultState(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p := New(store.NewMemory(), zap.NewNop(), true, func() time.Time { return now })

	st := p.State(context.Background(), uuid.New())
	if st.Permission != settings.PermissionDefault {
		t.Errorf("permission = %s, want default", st.Permission)
	}
	if !st.IsSupported {
		t.Error("probe should report supported")
	}
	if !st.LastChecked.Equal(now) {
		t.Errorf("last checked = %v, want %v", st.LastChecked, now)
	}
}

func TestProbe_SetPermission(t *testing.T) {
	p := New(store.NewMemory(), zap.NewNop(), true, nil)
	userID := uuid.New()
	ctx := context.Background()

	if err := p.SetPermission(ctx, userID, settings.PermissionGranted); err != nil {
		t.Fatalf("set permission failed: %v", err)
	}
	if !p.Granted(ctx, userID) {
		t.Error("permission should be granted")
	}

	if err := p.SetPermission(ctx, userID, settings.PermissionDenied); err != nil {
		t.Fatalf("set permission failed: %v", err)
	}
	if p.Granted(ctx, userID) {
		t.Error("permission should be denied")
	}
}

func TestProbe_SetPermissionRejectsUnknown(t *testing.T) {
	p := New(store.NewMemory(), zap.NewNop(), true, nil)

	if err := p.SetPermission(context.Background(), uuid.New(), "maybe"); err == nil {
		t.Error("expected error for unknown permission state")
	}
}

func TestProbe_RequestPermissionDoesNotEscalate(t *testing.T) {
	p := New(store.NewMemory(), zap.NewNop(), true, nil)
	userID := uuid.New()
	ctx := context.Background()

	got := p.RequestPermission(ctx, userID)
	if got != settings.PermissionDefault {
		t.Errorf("request returned %s, want default", got)
	}
	if p.Granted(ctx, userID) {
		t.Error("requesting permission must not grant it")
	}
}

func TestProbe_Unsupported(t *testing.T) {
	p := New(store.NewMemory(), zap.NewNop(), false, nil)

	st := p.State(context.Background(), uuid.New())
	if st.IsSupported {
		t.Error("probe should report unsupported")
	}
}
