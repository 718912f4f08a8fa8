package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/notify"
	"github.com/unablepath/memospark-notify/internal/store"
)

// Update carries a partial settings change. Nil fields are left as-is;
// type entries present in Types replace the stored entry for that type.
type Update struct {
	Enabled    *bool                         `json:"enabled,omitempty"`
	Permission *string                       `json:"permission,omitempty"`
	Types      map[notify.Type]*TypeSettings `json:"types,omitempty"`
	QuietHours *QuietHours                   `json:"quiet_hours,omitempty"`
	MaxDaily   *int                          `json:"max_daily,omitempty"`
}

// Store persists per-user settings blobs in a KV store.
type Store struct {
	kv     store.KV
	logger *zap.Logger
}

// NewStore creates a settings store over the given KV backend.
func NewStore(kv store.KV, logger *zap.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

func settingsKey(userID uuid.UUID) string {
	return "settings:" + userID.String()
}

// Load returns the user's settings merged onto defaults. It never fails:
// a missing blob, storage error, or corrupt JSON all degrade to defaults.
func (s *Store) Load(ctx context.Context, userID uuid.UUID) Settings {
	merged := Defaults()

	data, err := s.kv.Get(ctx, settingsKey(userID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("settings load failed, using defaults",
				zap.Error(err),
				zap.String("user_id", userID.String()),
			)
		}
		return merged
	}

	// Unmarshalling into the pre-populated defaults merges forward:
	// keys missing from the stored blob keep their default values, and
	// type entries absent from the stored map stay present.
	if err := json.Unmarshal(data, &merged); err != nil {
		s.logger.Warn("settings blob corrupt, using defaults",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		return Defaults()
	}

	merged.Version = SettingsVersion
	return merged
}

// Save persists the full settings blob.
func (s *Store) Save(ctx context.Context, userID uuid.UUID, cfg Settings) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.kv.Set(ctx, settingsKey(userID), data); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}

// Apply merges a partial update into the current settings and persists
// the result. Already-queued notifications are not re-validated.
func (s *Store) Apply(ctx context.Context, userID uuid.UUID, upd Update) (Settings, error) {
	cur := s.Load(ctx, userID)

	if upd.Enabled != nil {
		cur.Enabled = *upd.Enabled
	}
	if upd.Permission != nil {
		cur.Permission = *upd.Permission
	}
	if upd.QuietHours != nil {
		cur.QuietHours = *upd.QuietHours
	}
	if upd.MaxDaily != nil {
		cur.MaxDaily = *upd.MaxDaily
	}
	for t, ts := range upd.Types {
		if ts != nil {
			cur.Types[t] = ts
		}
	}

	if err := s.Save(ctx, userID, cur); err != nil {
		return cur, err
	}

	s.logger.Info("settings updated",
		zap.String("user_id", userID.String()),
		zap.Bool("enabled", cur.Enabled),
		zap.Int("max_daily", cur.MaxDaily),
	)
	return cur, nil
}
