package core

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// UserID uniquely identifies an athlete.
type UserID string

// AchievementID identifies a milestone unlock. It is unique across all
// milestone families.
type AchievementID string

// BadgeID is the display identifier attached to one or more achievements.
type BadgeID string

// MaxStreakDays bounds stored streaks so streak bonuses stay far from int64
// overflow.
const MaxStreakDays = 1_000_000

// ProgressionSnapshot is the persisted progression state of one athlete.
// Storage adapters must hand out deep copies (see Clone).
type ProgressionSnapshot struct {
	UserID            UserID                     `json:"user_id"`
	Points            int64                      `json:"points"`
	Level             int64                      `json:"level"`
	CurrentXP         int64                      `json:"current_xp"`
	StreakDays        int64                      `json:"streak_days"`
	LongestStreak     int64                      `json:"longest_streak"`
	WorkoutsCompleted int64                      `json:"workouts_completed"`
	TotalSets         int64                      `json:"total_sets"`
	Achievements      map[AchievementID]struct{} `json:"achievements"`
	Badges            map[BadgeID]struct{}       `json:"badges"`
	LastWorkoutDate   *time.Time                 `json:"last_workout_date,omitempty"`
	// Version is owned by storage: 0 means the snapshot was never persisted.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSnapshot returns the initial state for a user who has no progression yet.
func NewSnapshot(user UserID) ProgressionSnapshot {
	return ProgressionSnapshot{
		UserID:       user,
		Level:        1,
		Achievements: map[AchievementID]struct{}{},
		Badges:       map[BadgeID]struct{}{},
	}
}

// Clone returns a deep copy of the snapshot.
func (s ProgressionSnapshot) Clone() ProgressionSnapshot {
	cp := s
	cp.Achievements = make(map[AchievementID]struct{}, len(s.Achievements))
	for k := range s.Achievements {
		cp.Achievements[k] = struct{}{}
	}
	cp.Badges = make(map[BadgeID]struct{}, len(s.Badges))
	for k := range s.Badges {
		cp.Badges[k] = struct{}{}
	}
	if s.LastWorkoutDate != nil {
		t := *s.LastWorkoutDate
		cp.LastWorkoutDate = &t
	}
	return cp
}

// HasAchievement reports whether id is already unlocked.
func (s ProgressionSnapshot) HasAchievement(id AchievementID) bool {
	_, ok := s.Achievements[id]
	return ok
}

// HasBadge reports whether the badge is already held.
func (s ProgressionSnapshot) HasBadge(b BadgeID) bool {
	_, ok := s.Badges[b]
	return ok
}

// Validate checks the invariants a persisted snapshot must satisfy before the
// engine is allowed to transform it.
func (s ProgressionSnapshot) Validate() error {
	counters := []struct {
		name  string
		value int64
	}{
		{"points", s.Points},
		{"current_xp", s.CurrentXP},
		{"streak_days", s.StreakDays},
		{"longest_streak", s.LongestStreak},
		{"workouts_completed", s.WorkoutsCompleted},
		{"total_sets", s.TotalSets},
	}
	for _, c := range counters {
		if c.value < 0 {
			return &InvalidSnapshotError{Field: c.name, Reason: fmt.Sprintf("must be >= 0, got %d", c.value)}
		}
	}
	if s.LongestStreak > MaxStreakDays {
		return &InvalidSnapshotError{Field: "longest_streak", Reason: fmt.Sprintf("must be <= %d, got %d", MaxStreakDays, s.LongestStreak)}
	}
	if s.Level < 1 {
		return &InvalidSnapshotError{Field: "level", Reason: fmt.Sprintf("must be >= 1, got %d", s.Level)}
	}
	if next := XPRequiredFor(s.Level + 1); s.CurrentXP >= next {
		return &InvalidSnapshotError{
			Field:  "current_xp",
			Reason: fmt.Sprintf("%d reaches the level %d requirement %d", s.CurrentXP, s.Level+1, next),
		}
	}
	if s.LongestStreak < s.StreakDays {
		return &InvalidSnapshotError{
			Field:  "longest_streak",
			Reason: fmt.Sprintf("%d is below current streak %d", s.LongestStreak, s.StreakDays),
		}
	}
	return nil
}

// AchievementList returns unlocked achievements in a stable (sorted) order.
func (s ProgressionSnapshot) AchievementList() []AchievementID {
	out := make([]AchievementID, 0, len(s.Achievements))
	for id := range s.Achievements {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// BadgeList returns held badges in a stable (sorted) order.
func (s ProgressionSnapshot) BadgeList() []BadgeID {
	out := make([]BadgeID, 0, len(s.Badges))
	for b := range s.Badges {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, fmt.Errorf("add %d to %d: %w", delta, base, ErrOverflow)
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateBadgeID ensures non-empty badge id with simple charset check.
func ValidateBadgeID(b BadgeID) error {
	return validateIdent(string(b), "badge")
}

// ValidateAchievementID applies the badge charset rules to achievement ids.
func ValidateAchievementID(id AchievementID) error {
	return validateIdent(string(id), "achievement")
}

func validateIdent(v, kind string) error {
	s := strings.TrimSpace(v)
	if s == "" {
		return fmt.Errorf("empty %s id", kind)
	}
	// alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return fmt.Errorf("invalid %s id %q", kind, v)
	}
	return nil
}
