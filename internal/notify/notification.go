// Package notify defines the core notification types shared by the
// scheduler, delivery backends, and senders.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type classifies what a notification is about.
type Type string

const (
	TypeTaskDue        Type = "task_due"
	TypeStudyReminder  Type = "study_reminder"
	TypeBreakReminder  Type = "break_reminder"
	TypeAchievement    Type = "achievement"
	TypeStreakReminder Type = "streak_reminder"
	TypeGeneral        Type = "general"
)

// Types lists every known notification type.
var Types = []Type{
	TypeTaskDue,
	TypeStudyReminder,
	TypeBreakReminder,
	TypeAchievement,
	TypeStreakReminder,
	TypeGeneral,
}

// Priority maps to the delivery hints passed to the push vendor.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Channel constants
const (
	ChannelPush       = "push"
	ChannelLocal      = "local"
	ChannelMobilePush = "mobile_push"
	ChannelEmail      = "email"
)

// Action is a button attached to a displayed notification.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Notification is a single scheduled notification. It is created by a
// caller, held by exactly one delivery backend until its fire time, and
// removed once delivered, cancelled, or swept as stale.
type Notification struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             uuid.UUID       `json:"user_id"`
	Type               Type            `json:"type"`
	Priority           Priority        `json:"priority"`
	Channel            string          `json:"channel"`
	Title              string          `json:"title"`
	Body               string          `json:"body"`
	ScheduledAt        time.Time       `json:"scheduled_at"`
	TaskID             *uuid.UUID      `json:"task_id,omitempty"`
	ReminderID         *uuid.UUID      `json:"reminder_id,omitempty"`
	Icon               string          `json:"icon,omitempty"`
	Badge              string          `json:"badge,omitempty"`
	Data               json.RawMessage `json:"data,omitempty"`
	Actions            []Action        `json:"actions,omitempty"`
	RequireInteraction bool            `json:"require_interaction,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Validate checks the fields a caller must supply. The scheduler applies
// its own policy on ScheduledAt (past-due requests are sent immediately).
func (n *Notification) Validate() error {
	if n.ID == uuid.Nil {
		return fmt.Errorf("notification missing id")
	}
	if n.UserID == uuid.Nil {
		return fmt.Errorf("notification missing user_id")
	}
	if n.Title == "" {
		return fmt.Errorf("notification missing title")
	}
	if !validType(n.Type) {
		return fmt.Errorf("unknown notification type: %s", n.Type)
	}
	switch n.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
	default:
		return fmt.Errorf("unknown priority: %s", n.Priority)
	}
	return nil
}

func validType(t Type) bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// ApplyDefaults fills optional fields so senders never see zero values.
func (n *Notification) ApplyDefaults() {
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if n.Channel == "" {
		n.Channel = ChannelPush
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
}
