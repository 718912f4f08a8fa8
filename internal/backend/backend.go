// Package backend defines the two interchangeable delivery backends the
// scheduler falls through: the background worker (survives gateway
// restarts, preferred) and the in-process foreground timer (fallback).
package backend

import (
	"context"

	"github.com/unablepath/memospark-notify/internal/notify"
)

// DeliveryBackend holds pending notifications until their fire time.
// The scheduler treats both variants uniformly and prefers the first
// one whose TrySchedule accepts.
type DeliveryBackend interface {
	// TrySchedule accepts or declines a notification. Declining is not
	// an error; the scheduler falls through to the next backend.
	TrySchedule(ctx context.Context, n *notify.Notification) bool

	// Cancel removes a pending notification. Returns false when the
	// backend does not hold the id.
	Cancel(ctx context.Context, id string) bool

	// List reports the notifications this backend currently holds.
	List(ctx context.Context) []*notify.Notification

	Name() string
}

// Hooks receive lifecycle callbacks from a backend. The scheduler wires
// these to the stats recorder, delivery history, and metrics.
type Hooks struct {
	OnDelivered func(n *notify.Notification)
	OnFailed    func(n *notify.Notification, reason string)
}

func (h Hooks) delivered(n *notify.Notification) {
	if h.OnDelivered != nil {
		h.OnDelivered(n)
	}
}

func (h Hooks) failed(n *notify.Notification, reason string) {
	if h.OnFailed != nil {
		h.OnFailed(n, reason)
	}
}
