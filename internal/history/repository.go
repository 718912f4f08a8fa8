package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status of one delivery attempt chain.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
	StatusMissed Status = "missed" // swept as stale, never fired
)

// Delivery is one row in the audit trail.
type Delivery struct {
	ID             uuid.UUID `json:"id"`
	NotificationID uuid.UUID `json:"notification_id"`
	UserID         uuid.UUID `json:"user_id"`
	Type           string    `json:"type"`
	Channel        string    `json:"channel"`
	Title          string    `json:"title"`
	Status         Status    `json:"status"`
	Error          string    `json:"error,omitempty"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	DeliveredAt    time.Time `json:"delivered_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Repository handles database operations for the delivery audit trail.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a delivery history repository.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// RecordDelivery inserts one delivery outcome.
func (r *Repository) RecordDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}

	query := `
		INSERT INTO deliveries (
			id, notification_id, user_id, type, channel,
			title, status, error, scheduled_at, delivered_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		d.ID,
		d.NotificationID,
		d.UserID,
		d.Type,
		d.Channel,
		d.Title,
		d.Status,
		d.Error,
		d.ScheduledAt,
		d.DeliveredAt,
	).Scan(&d.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}

	r.logger.Debug("delivery recorded",
		zap.String("notification_id", d.NotificationID.String()),
		zap.String("status", string(d.Status)),
	)
	return nil
}

// ListByUser returns a user's delivery history, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Delivery, error) {
	query := `
		SELECT id, notification_id, user_id, type, channel,
		       title, status, error, scheduled_at, delivered_at, created_at
		FROM deliveries
		WHERE user_id = $1
		ORDER BY delivered_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(
			&d.ID,
			&d.NotificationID,
			&d.UserID,
			&d.Type,
			&d.Channel,
			&d.Title,
			&d.Status,
			&d.Error,
			&d.ScheduledAt,
			&d.DeliveredAt,
			&d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}
