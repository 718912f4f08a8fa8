// Package probe tracks delivery capability and per-user permission
// state. Permission is granted by the client platform; this service
// records what the client reports and never escalates on its own.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/settings"
	"github.com/unablepath/memospark-notify/internal/store"
)

// State is a point-in-time capability snapshot for one user.
type State struct {
	Permission  string    `json:"permission"`
	IsSupported bool      `json:"is_supported"`
	LastChecked time.Time `json:"last_checked"`
}

type permissionRecord struct {
	Permission string     `json:"permission"`
	PromptedAt *time.Time `json:"prompted_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Probe answers capability and permission queries.
type Probe struct {
	kv        store.KV
	logger    *zap.Logger
	supported bool
	now       func() time.Time
}

// New creates a probe. supported reflects whether at least one delivery
// sender is configured; when false every schedule call is rejected
// up front. now is injectable for tests; nil means time.Now.
func New(kv store.KV, logger *zap.Logger, supported bool, now func() time.Time) *Probe {
	if now == nil {
		now = time.Now
	}
	return &Probe{kv: kv, logger: logger, supported: supported, now: now}
}

func permissionKey(userID uuid.UUID) string {
	return "permission:" + userID.String()
}

func (p *Probe) load(ctx context.Context, userID uuid.UUID) permissionRecord {
	rec := permissionRecord{Permission: settings.PermissionDefault}

	data, err := p.kv.Get(ctx, permissionKey(userID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("permission load failed",
				zap.Error(err),
				zap.String("user_id", userID.String()),
			)
		}
		return rec
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		p.logger.Warn("permission record corrupt",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		return permissionRecord{Permission: settings.PermissionDefault}
	}
	return rec
}

func (p *Probe) save(ctx context.Context, userID uuid.UUID, rec permissionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal permission record: %w", err)
	}
	if err := p.kv.Set(ctx, permissionKey(userID), data); err != nil {
		return fmt.Errorf("persist permission record: %w", err)
	}
	return nil
}

// State returns the user's current capability snapshot.
func (p *Probe) State(ctx context.Context, userID uuid.UUID) State {
	rec := p.load(ctx, userID)
	return State{
		Permission:  rec.Permission,
		IsSupported: p.supported,
		LastChecked: p.now(),
	}
}

// Granted reports whether the user has granted notification permission.
func (p *Probe) Granted(ctx context.Context, userID uuid.UUID) bool {
	return p.load(ctx, userID).Permission == settings.PermissionGranted
}

// RequestPermission records that the client prompted the user, exactly
// once per call. It returns the last known permission; it never retries
// or escalates. The caller decides whether to prompt again later.
func (p *Probe) RequestPermission(ctx context.Context, userID uuid.UUID) string {
	rec := p.load(ctx, userID)
	now := p.now()
	rec.PromptedAt = &now
	rec.UpdatedAt = now

	if err := p.save(ctx, userID, rec); err != nil {
		p.logger.Warn("permission prompt record failed", zap.Error(err))
	}
	return rec.Permission
}

// SetPermission records the grant the client platform reported.
func (p *Probe) SetPermission(ctx context.Context, userID uuid.UUID, permission string) error {
	switch permission {
	case settings.PermissionDefault, settings.PermissionGranted, settings.PermissionDenied:
	default:
		return fmt.Errorf("unknown permission state: %s", permission)
	}

	rec := p.load(ctx, userID)
	rec.Permission = permission
	rec.UpdatedAt = p.now()

	if err := p.save(ctx, userID, rec); err != nil {
		return err
	}

	p.logger.Info("permission updated",
		zap.String("user_id", userID.String()),
		zap.String("permission", permission),
	)
	return nil
}
