// Package worker implements the background scheduling process and the
// message protocol the gateway uses to reach it. Pending notifications
// live in a Redis sorted set keyed by fire time, so they survive
// gateway restarts; requests and events flow over pub/sub channels.
package worker

import (
	"github.com/unablepath/memospark-notify/internal/notify"
)

// Redis keys and channels. The protocol is internal: both ends ship in
// this repo, so the shape is free to change between releases.
const (
	RequestChannel     = "notify:worker:requests"
	EventChannel       = "notify:worker:events"
	ReplyChannelPrefix = "notify:worker:reply:"

	HeartbeatKey = "notify:worker:heartbeat"

	pendingByFireTime = "notify:worker:pending" // zset: id -> fire unix
	pendingItems      = "notify:worker:items"   // hash: id -> notification JSON
)

// MsgType enumerates gateway-to-worker requests.
type MsgType string

const (
	MsgSchedule  MsgType = "schedule_notification"
	MsgCancel    MsgType = "cancel_notification"
	MsgCancelAll MsgType = "cancel_all_notifications"
	MsgList      MsgType = "get_scheduled_notifications"
)

// Request is a gateway-to-worker message. Every request names a reply
// channel; the worker publishes exactly one Response there.
type Request struct {
	Type         MsgType              `json:"type"`
	Notification *notify.Notification `json:"notification,omitempty"`
	ID           string               `json:"id,omitempty"`
	ReplyTo      string               `json:"reply_to"`
}

// Response acknowledges a Request.
type Response struct {
	OK            bool                   `json:"ok"`
	Error         string                 `json:"error,omitempty"`
	Notifications []*notify.Notification `json:"notifications,omitempty"`
}

// Event types published by the worker on EventChannel. Click and
// dismiss events never pass through here; clients report those to the
// gateway API directly.
const (
	EventDelivered = "notification_delivered"
	EventFailed    = "notification_failed"
)

// Event is a worker-to-gateway lifecycle notification.
type Event struct {
	Type         string               `json:"type"`
	Notification *notify.Notification `json:"notification"`
	Reason       string               `json:"reason,omitempty"`
}
