// Package settings holds per-user notification preferences and the
// quiet-hours window logic.
package settings

import (
	"strconv"
	"strings"
	"time"

	"github.com/unablepath/memospark-notify/internal/notify"
)

// Permission states mirror the platform notification grant.
const (
	PermissionDefault = "default"
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// TypeSettings configures one notification type.
type TypeSettings struct {
	Enabled        bool `json:"enabled"`
	AdvanceMinutes int  `json:"advance_minutes"`
	Sound          bool `json:"sound"`
	Vibration      bool `json:"vibration"`
}

// QuietHours is a wall-clock window during which scheduled notifications
// are deferred, never dropped. Start/End are "HH:MM"; the window may wrap
// midnight (Start > End).
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// parseHM converts "HH:MM" to minutes since midnight. ok is false for
// malformed values, which callers treat as a disabled window.
func parseHM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// Contains reports whether t falls inside the window [Start, End).
// When the window wraps midnight, a time is inside when it is at or
// after Start or strictly before End.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, ok := parseHM(q.Start)
	if !ok {
		return false
	}
	end, ok := parseHM(q.End)
	if !ok {
		return false
	}
	if start == end {
		return false
	}

	m := t.Hour()*60 + t.Minute()
	if start > end {
		return m >= start || m < end
	}
	return m >= start && m < end
}

// NextEnd returns the first instant at or after t when the window ends.
// Callers only invoke it for instants inside the window.
func (q QuietHours) NextEnd(t time.Time) time.Time {
	start, ok := parseHM(q.Start)
	if !ok {
		return t
	}
	end, ok := parseHM(q.End)
	if !ok {
		return t
	}

	endToday := time.Date(t.Year(), t.Month(), t.Day(), end/60, end%60, 0, 0, t.Location())

	m := t.Hour()*60 + t.Minute()
	if start > end && m >= start {
		// Evening side of a wrapping window: the end is tomorrow morning.
		return endToday.Add(24 * time.Hour)
	}
	return endToday
}

// Settings is the full per-user preference blob. Persisted as JSON and
// merged onto Defaults on load so schema growth never breaks old data.
type Settings struct {
	Enabled    bool                          `json:"enabled"`
	Permission string                        `json:"permission"`
	Types      map[notify.Type]*TypeSettings `json:"types"`
	QuietHours QuietHours                    `json:"quiet_hours"`
	MaxDaily   int                           `json:"max_daily"`
	Version    int                           `json:"version"`
}

// SettingsVersion bumps when the default shape changes.
const SettingsVersion = 2

// Defaults returns the hardcoded baseline settings: everything enabled,
// no quiet hours, 10 notifications per day.
func Defaults() Settings {
	types := make(map[notify.Type]*TypeSettings, len(notify.Types))
	for _, t := range notify.Types {
		types[t] = &TypeSettings{
			Enabled:        true,
			AdvanceMinutes: 15,
			Sound:          true,
			Vibration:      true,
		}
	}
	// Achievements are fire-and-forget, no advance lead time.
	types[notify.TypeAchievement].AdvanceMinutes = 0

	return Settings{
		Enabled:    true,
		Permission: PermissionDefault,
		Types:      types,
		QuietHours: QuietHours{Enabled: false, Start: "22:00", End: "08:00"},
		MaxDaily:   10,
		Version:    SettingsVersion,
	}
}

// TypeEnabled reports whether the given notification type is enabled.
// Unknown types fall back to enabled so new types added by newer
// clients are not silently dropped.
func (s Settings) TypeEnabled(t notify.Type) bool {
	ts, ok := s.Types[t]
	if !ok {
		return true
	}
	return ts.Enabled
}
