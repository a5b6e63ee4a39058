package core

import (
	"errors"
	"fmt"
	"strings"
)

// Family groups milestones by the progress counter they are measured against.
type Family string

const (
	FamilyWorkout Family = "workout"
	FamilyStreak  Family = "streak"
	FamilyLevel   Family = "level"
)

// Milestone is a static threshold that unlocks an achievement once progress
// reaches Threshold.
type Milestone struct {
	ID        AchievementID `json:"id" toml:"id"`
	Family    Family        `json:"family" toml:"family"`
	Name      string        `json:"name,omitempty" toml:"name"`
	Threshold int64         `json:"threshold" toml:"threshold"`
	Points    int64         `json:"points" toml:"points"`
	Badge     BadgeID       `json:"badge" toml:"badge"`
}

// Thresholds holds the three milestone tables. Definition order is the
// order unlocks are reported in.
type Thresholds struct {
	Workout []Milestone `json:"workout" toml:"workout"`
	Streak  []Milestone `json:"streak" toml:"streak"`
	Level   []Milestone `json:"level" toml:"level"`
}

// ForFamily returns the table for f.
func (t Thresholds) ForFamily(f Family) []Milestone {
	switch f {
	case FamilyWorkout:
		return t.Workout
	case FamilyStreak:
		return t.Streak
	case FamilyLevel:
		return t.Level
	}
	return nil
}

// Len is the number of milestones across all families.
func (t Thresholds) Len() int { return len(t.Workout) + len(t.Streak) + len(t.Level) }

// Validate checks the catalog for configuration faults: ids must be unique
// across families, thresholds positive, points non-negative.
func (t Thresholds) Validate() error {
	var errs []string
	seen := make(map[AchievementID]Family, t.Len())
	for _, fam := range []Family{FamilyWorkout, FamilyStreak, FamilyLevel} {
		for i, m := range t.ForFamily(fam) {
			where := fmt.Sprintf("%s[%d]", fam, i)
			if m.Family != "" && m.Family != fam {
				errs = append(errs, fmt.Sprintf("%s: family %q listed under %q", where, m.Family, fam))
			}
			if err := ValidateAchievementID(m.ID); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", where, err))
			} else if prev, dup := seen[m.ID]; dup {
				errs = append(errs, fmt.Sprintf("%s: duplicate id %q (also in %s)", where, m.ID, prev))
			} else {
				seen[m.ID] = fam
			}
			if m.Threshold <= 0 {
				errs = append(errs, fmt.Sprintf("%s: threshold must be > 0", where))
			}
			if m.Points < 0 {
				errs = append(errs, fmt.Sprintf("%s: points must be >= 0", where))
			}
			if err := ValidateBadgeID(m.Badge); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", where, err))
			}
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Normalize fills in missing Family tags from the table each milestone is
// listed in.
func (t Thresholds) Normalize() Thresholds {
	fill := func(ms []Milestone, f Family) []Milestone {
		out := make([]Milestone, len(ms))
		for i, m := range ms {
			if m.Family == "" {
				m.Family = f
			}
			out[i] = m
		}
		return out
	}
	return Thresholds{
		Workout: fill(t.Workout, FamilyWorkout),
		Streak:  fill(t.Streak, FamilyStreak),
		Level:   fill(t.Level, FamilyLevel),
	}
}

// DefaultThresholds is the built-in milestone catalog.
func DefaultThresholds() Thresholds {
	w := func(id string, n, pts int64, badge, name string) Milestone {
		return Milestone{ID: AchievementID(id), Family: FamilyWorkout, Threshold: n, Points: pts, Badge: BadgeID(badge), Name: name}
	}
	s := func(id string, n, pts int64, badge, name string) Milestone {
		return Milestone{ID: AchievementID(id), Family: FamilyStreak, Threshold: n, Points: pts, Badge: BadgeID(badge), Name: name}
	}
	l := func(id string, n, pts int64, badge, name string) Milestone {
		return Milestone{ID: AchievementID(id), Family: FamilyLevel, Threshold: n, Points: pts, Badge: BadgeID(badge), Name: name}
	}
	return Thresholds{
		Workout: []Milestone{
			w("first_workout", 1, 50, "first_steps", "First Steps"),
			w("workouts_10", 10, 150, "committed", "Committed"),
			w("workouts_25", 25, 300, "dedicated", "Dedicated"),
			w("workouts_50", 50, 500, "half_century", "Half Century"),
			w("workouts_100", 100, 1000, "centurion", "Centurion"),
			w("workouts_250", 250, 2500, "iron_will", "Iron Will"),
			w("workouts_500", 500, 5000, "legend", "Legend"),
		},
		Streak: []Milestone{
			s("streak_3", 3, 75, "on_fire", "On Fire"),
			s("streak_7", 7, 200, "week_warrior", "Week Warrior"),
			s("streak_14", 14, 400, "fortnight_force", "Fortnight Force"),
			s("streak_30", 30, 1000, "monthly_machine", "Monthly Machine"),
			s("streak_100", 100, 5000, "unstoppable", "Unstoppable"),
		},
		Level: []Milestone{
			l("level_5", 5, 250, "rising_star", "Rising Star"),
			l("level_10", 10, 500, "athlete", "Athlete"),
			l("level_25", 25, 1500, "elite", "Elite"),
			l("level_50", 50, 5000, "champion", "Champion"),
		},
	}
}

// Match is the result of one matcher pass.
type Match struct {
	Unlocked    []AchievementID
	Badges      []BadgeID
	BonusPoints int64
}

// MatchNewAchievements scans defs in order and unlocks every milestone of
// family whose threshold is covered by progress and whose id is not in
// unlocked. A badge is reported only when it is absent from badges and was
// not already reported by this call. Neither set is modified.
func MatchNewAchievements(family Family, progress int64, unlocked map[AchievementID]struct{}, badges map[BadgeID]struct{}, defs []Milestone) Match {
	var m Match
	seenIDs := map[AchievementID]struct{}{}
	seenBadges := map[BadgeID]struct{}{}
	for _, def := range defs {
		if def.Family != "" && def.Family != family {
			continue
		}
		if progress < def.Threshold {
			continue
		}
		if _, ok := unlocked[def.ID]; ok {
			continue
		}
		if _, ok := seenIDs[def.ID]; ok {
			continue
		}
		seenIDs[def.ID] = struct{}{}
		m.Unlocked = append(m.Unlocked, def.ID)
		m.BonusPoints += def.Points
		if def.Badge == "" {
			continue
		}
		if _, ok := badges[def.Badge]; ok {
			continue
		}
		if _, ok := seenBadges[def.Badge]; ok {
			continue
		}
		seenBadges[def.Badge] = struct{}{}
		m.Badges = append(m.Badges, def.Badge)
	}
	return m
}
