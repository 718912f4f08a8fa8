// Package stats tracks per-user notification lifecycle counters with a
// daily rollover.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/store"
)

// Stats holds the running counters for one user. Counters only ever
// increment; the daily rollover in Load is the single reset path.
type Stats struct {
	Scheduled int       `json:"scheduled"`
	Sent      int       `json:"sent"`
	Clicked   int       `json:"clicked"`
	Dismissed int       `json:"dismissed"`
	LastReset time.Time `json:"last_reset"`
}

// Recorder persists per-user stats blobs in a KV store.
type Recorder struct {
	kv     store.KV
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder creates a stats recorder. now is injectable for tests;
// nil means time.Now.
func NewRecorder(kv store.KV, logger *zap.Logger, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{kv: kv, logger: logger, now: now}
}

func statsKey(userID uuid.UUID) string {
	return "stats:" + userID.String()
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Load returns the user's counters. If the persisted blob was last
// reset on a different day, a zeroed struct stamped with the current
// time is returned and persisted back. Storage failures degrade to a
// fresh zeroed struct, never an error.
func (r *Recorder) Load(ctx context.Context, userID uuid.UUID) Stats {
	now := r.now()
	fresh := Stats{LastReset: now}

	data, err := r.kv.Get(ctx, statsKey(userID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("stats load failed, starting fresh",
				zap.Error(err),
				zap.String("user_id", userID.String()),
			)
		}
		return fresh
	}

	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		r.logger.Warn("stats blob corrupt, starting fresh",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		return fresh
	}

	if !sameDay(s.LastReset, now) {
		if err := r.save(ctx, userID, fresh); err != nil {
			r.logger.Warn("stats rollover persist failed", zap.Error(err))
		}
		return fresh
	}
	return s
}

func (r *Recorder) save(ctx context.Context, userID uuid.UUID, s Stats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := r.kv.Set(ctx, statsKey(userID), data); err != nil {
		return fmt.Errorf("persist stats: %w", err)
	}
	return nil
}

// bump loads, applies fn, and persists. Persistence is best-effort:
// a write failure loses one increment, it never propagates.
func (r *Recorder) bump(ctx context.Context, userID uuid.UUID, fn func(*Stats)) {
	s := r.Load(ctx, userID)
	fn(&s)
	if err := r.save(ctx, userID, s); err != nil {
		r.logger.Warn("stats persist failed",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
	}
}

// RecordScheduled increments the scheduled counter.
func (r *Recorder) RecordScheduled(ctx context.Context, userID uuid.UUID) {
	r.bump(ctx, userID, func(s *Stats) { s.Scheduled++ })
}

// RecordSent increments the sent counter.
func (r *Recorder) RecordSent(ctx context.Context, userID uuid.UUID) {
	r.bump(ctx, userID, func(s *Stats) { s.Sent++ })
}

// RecordClicked increments the clicked counter.
func (r *Recorder) RecordClicked(ctx context.Context, userID uuid.UUID) {
	r.bump(ctx, userID, func(s *Stats) { s.Clicked++ })
}

// RecordDismissed increments the dismissed counter.
func (r *Recorder) RecordDismissed(ctx context.Context, userID uuid.UUID) {
	r.bump(ctx, userID, func(s *Stats) { s.Dismissed++ })
}
