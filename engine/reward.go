package engine

import (
	"fmt"
	"time"

	"fitprogress/core"
)

const (
	// WorkoutCompletionPoints is credited for every completed workout.
	WorkoutCompletionPoints = 100
	// SetCompletionPoints is credited per completed set.
	SetCompletionPoints = 10
	// StreakBonusPerDay is multiplied by the streak held before the workout.
	StreakBonusPerDay = 50
	// MaxCompletedSets bounds a single event; larger values are rejected.
	MaxCompletedSets = 10_000
)

// RewardEvent is the single external trigger of the engine.
type RewardEvent struct {
	CompletedSets int64 `json:"completed_sets"`
}

// Validate rejects out-of-domain events.
func (e RewardEvent) Validate() error {
	if e.CompletedSets < 0 {
		return &core.InvalidEventError{Field: "completed_sets", Reason: fmt.Sprintf("must be >= 0, got %d", e.CompletedSets)}
	}
	if e.CompletedSets > MaxCompletedSets {
		return &core.InvalidEventError{Field: "completed_sets", Reason: fmt.Sprintf("must be <= %d, got %d", MaxCompletedSets, e.CompletedSets)}
	}
	return nil
}

// RewardResult reports what one workout earned.
type RewardResult struct {
	PointsGained    int64                `json:"points_gained"`
	NewLevel        int64                `json:"new_level"`
	LevelsGained    int64                `json:"levels_gained"`
	CurrentXP       int64                `json:"current_xp"`
	NextLevelXP     int64                `json:"next_level_xp"`
	StreakDays      int64                `json:"streak_days"`
	LongestStreak   int64                `json:"longest_streak"`
	NewAchievements []core.AchievementID `json:"new_achievements"`
	NewBadges       []core.BadgeID       `json:"new_badges"`
}

// accumulator folds gains into the working copy of the snapshot.
type accumulator struct {
	snap   core.ProgressionSnapshot
	gained int64
	result *RewardResult
}

func (a *accumulator) add(points int64) {
	a.gained += points
	a.snap.CurrentXP += points
}

func (a *accumulator) apply(m core.Match) {
	a.add(m.BonusPoints)
	a.record(m)
}

// record unions the unlocks into the snapshot and the report.
func (a *accumulator) record(m core.Match) {
	for _, id := range m.Unlocked {
		a.snap.Achievements[id] = struct{}{}
	}
	for _, b := range m.Badges {
		a.snap.Badges[b] = struct{}{}
	}
	a.result.NewAchievements = append(a.result.NewAchievements, m.Unlocked...)
	a.result.NewBadges = append(a.result.NewBadges, m.Badges...)
}

// AwardWorkoutCompletion applies one completed workout to snap and returns
// the next snapshot together with a report of what changed. It is a pure
// function: now is the only notion of time, and snap is never modified. On
// error no snapshot is returned.
//
// The caller owns persistence and must serialize read-modify-write per user.
func AwardWorkoutCompletion(snap core.ProgressionSnapshot, ev RewardEvent, now time.Time, thresholds core.Thresholds) (core.ProgressionSnapshot, RewardResult, error) {
	if err := ev.Validate(); err != nil {
		return core.ProgressionSnapshot{}, RewardResult{}, err
	}
	if err := snap.Validate(); err != nil {
		return core.ProgressionSnapshot{}, RewardResult{}, err
	}
	if snap.LastWorkoutDate != nil && core.DaysBetween(*snap.LastWorkoutDate, now) < 0 {
		return core.ProgressionSnapshot{}, RewardResult{}, &core.InvalidEventError{
			Field:  "time",
			Reason: fmt.Sprintf("workout at %s predates last workout %s", now.Format(time.RFC3339), snap.LastWorkoutDate.Format(time.RFC3339)),
		}
	}

	result := RewardResult{NewAchievements: []core.AchievementID{}, NewBadges: []core.BadgeID{}}
	acc := &accumulator{snap: snap.Clone(), result: &result}
	if acc.snap.Achievements == nil {
		acc.snap.Achievements = map[core.AchievementID]struct{}{}
	}
	if acc.snap.Badges == nil {
		acc.snap.Badges = map[core.BadgeID]struct{}{}
	}

	acc.add(WorkoutCompletionPoints)
	acc.add(ev.CompletedSets * SetCompletionPoints)
	if snap.StreakDays > 0 {
		acc.add(StreakBonusPerDay * snap.StreakDays)
	}

	workoutCount := snap.WorkoutsCompleted + 1
	acc.apply(core.MatchNewAchievements(core.FamilyWorkout, workoutCount, acc.snap.Achievements, acc.snap.Badges, thresholds.Workout))
	// Streak milestones are measured against the streak held before this workout.
	acc.apply(core.MatchNewAchievements(core.FamilyStreak, snap.StreakDays, acc.snap.Achievements, acc.snap.Badges, thresholds.Streak))

	cascade := core.Cascade(acc.snap.Level, acc.snap.CurrentXP, acc.gained, func(level int64) int64 {
		m := core.MatchNewAchievements(core.FamilyLevel, level, acc.snap.Achievements, acc.snap.Badges, thresholds.Level)
		// Cascade folds the bonus into XP and gained points itself.
		acc.record(m)
		return m.BonusPoints
	})

	points, err := core.AddSafe(snap.Points, cascade.PointsGained)
	if err != nil {
		return core.ProgressionSnapshot{}, RewardResult{}, fmt.Errorf("accumulate points: %w", err)
	}
	totalSets, err := core.AddSafe(snap.TotalSets, ev.CompletedSets)
	if err != nil {
		return core.ProgressionSnapshot{}, RewardResult{}, fmt.Errorf("accumulate sets: %w", err)
	}
	streak := core.UpdateStreak(snap.LastWorkoutDate, snap.StreakDays, snap.LongestStreak, now)

	next := acc.snap
	next.Points = points
	next.Level = cascade.Level
	next.CurrentXP = cascade.CurrentXP
	next.WorkoutsCompleted = workoutCount
	next.TotalSets = totalSets
	next.StreakDays = streak.StreakDays
	next.LongestStreak = streak.LongestStreak
	last := now
	next.LastWorkoutDate = &last
	next.UpdatedAt = now

	if nextXP := core.XPRequiredFor(next.Level + 1); next.CurrentXP < 0 || next.CurrentXP >= nextXP {
		return core.ProgressionSnapshot{}, RewardResult{}, fmt.Errorf("level cascade did not settle: xp %d, next requirement %d", next.CurrentXP, nextXP)
	}

	result.PointsGained = cascade.PointsGained
	result.NewLevel = cascade.Level
	result.LevelsGained = cascade.LevelsGained
	result.CurrentXP = cascade.CurrentXP
	result.NextLevelXP = core.XPRequiredFor(cascade.Level + 1)
	result.StreakDays = streak.StreakDays
	result.LongestStreak = streak.LongestStreak
	return next, result, nil
}
