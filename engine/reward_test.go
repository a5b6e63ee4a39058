package engine

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitprogress/core"
)

var day0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestAwardFirstWorkout(t *testing.T) {
	snap := core.NewSnapshot("alice")

	next, res, err := AwardWorkoutCompletion(snap, RewardEvent{CompletedSets: 3}, day0, core.DefaultThresholds())
	require.NoError(t, err)

	// 100 base + 30 sets + 50 for first_workout
	assert.Equal(t, int64(180), res.PointsGained)
	assert.Equal(t, []core.AchievementID{"first_workout"}, res.NewAchievements)
	assert.Equal(t, []core.BadgeID{"first_steps"}, res.NewBadges)
	assert.Equal(t, int64(1), res.NewLevel)
	assert.Equal(t, int64(0), res.LevelsGained)
	assert.Equal(t, int64(180), res.CurrentXP)
	assert.Equal(t, int64(229), res.NextLevelXP)

	assert.Equal(t, int64(180), next.Points)
	assert.Equal(t, int64(1), next.WorkoutsCompleted)
	assert.Equal(t, int64(3), next.TotalSets)
	assert.Equal(t, int64(1), next.StreakDays)
	assert.Equal(t, int64(1), next.LongestStreak)
	require.NotNil(t, next.LastWorkoutDate)
	assert.True(t, next.LastWorkoutDate.Equal(day0))
	assert.True(t, next.HasAchievement("first_workout"))
	assert.True(t, next.HasBadge("first_steps"))

	// input untouched
	assert.Empty(t, snap.Achievements)
	assert.Nil(t, snap.LastWorkoutDate)
}

func TestAwardWithoutMilestones(t *testing.T) {
	_, res, err := AwardWorkoutCompletion(core.NewSnapshot("u"), RewardEvent{CompletedSets: 3}, day0, core.Thresholds{})
	require.NoError(t, err)
	assert.Equal(t, int64(130), res.PointsGained)
	assert.Empty(t, res.NewAchievements)
	assert.Empty(t, res.NewBadges)
	assert.NotNil(t, res.NewAchievements)
}

func TestAwardSecondWorkoutSameDay(t *testing.T) {
	th := core.DefaultThresholds()
	first, _, err := AwardWorkoutCompletion(core.NewSnapshot("u"), RewardEvent{CompletedSets: 3}, day0, th)
	require.NoError(t, err)

	second, res, err := AwardWorkoutCompletion(first, RewardEvent{CompletedSets: 3}, day0.Add(6*time.Hour), th)
	require.NoError(t, err)

	// 100 + 30 + 50 streak bonus, xp 180+180=360 crosses 229 -> level 2 with +200
	assert.Equal(t, int64(380), res.PointsGained)
	assert.Equal(t, int64(2), res.NewLevel)
	assert.Equal(t, int64(1), res.LevelsGained)
	assert.Equal(t, int64(131), res.CurrentXP)
	assert.Equal(t, int64(373), res.NextLevelXP)
	assert.Empty(t, res.NewAchievements)

	assert.Equal(t, int64(1), second.StreakDays)
	assert.Equal(t, int64(560), second.Points)
	assert.Equal(t, int64(2), second.WorkoutsCompleted)
}

func TestAwardLevelUpOnExactBoundary(t *testing.T) {
	snap := core.NewSnapshot("u")
	snap.CurrentXP = 99

	next, res, err := AwardWorkoutCompletion(snap, RewardEvent{CompletedSets: 3}, day0, core.Thresholds{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Level)
	assert.Equal(t, int64(0), next.CurrentXP)
	assert.Equal(t, int64(130+core.LevelUpBonus), res.PointsGained)
}

func TestAwardWorkoutMilestoneCrossing(t *testing.T) {
	th := core.Thresholds{Workout: []core.Milestone{
		{ID: "w50", Threshold: 50, Points: 500, Badge: "B1"},
		{ID: "w50_alias", Threshold: 50, Points: 0, Badge: "B1"},
	}}
	snap := core.NewSnapshot("u")
	snap.WorkoutsCompleted = 49

	next, res, err := AwardWorkoutCompletion(snap, RewardEvent{}, day0, th)
	require.NoError(t, err)
	assert.Equal(t, []core.AchievementID{"w50", "w50_alias"}, res.NewAchievements)
	assert.Equal(t, []core.BadgeID{"B1"}, res.NewBadges)
	// 100 base + 500 milestone crosses level 2 (229), leaving 371 < 373
	assert.Equal(t, int64(800), res.PointsGained)
	assert.Equal(t, int64(2), next.Level)
	assert.Equal(t, int64(371), next.CurrentXP)
}

func TestAwardStreakBonusAndMilestoneUsePriorStreak(t *testing.T) {
	last := day0.AddDate(0, 0, -1)
	snap := core.NewSnapshot("u")
	snap.StreakDays = 3
	snap.LongestStreak = 3
	snap.WorkoutsCompleted = 5
	snap.LastWorkoutDate = &last

	th := core.Thresholds{Streak: []core.Milestone{
		{ID: "s3", Threshold: 3, Points: 10, Badge: "fire"},
		{ID: "s4", Threshold: 4, Points: 10, Badge: "hotter"},
	}}
	next, res, err := AwardWorkoutCompletion(snap, RewardEvent{}, day0, th)
	require.NoError(t, err)
	// 100 + 150 streak bonus + 10 for s3 crosses level 2; s4 waits for the next workout
	assert.Equal(t, int64(260+core.LevelUpBonus), res.PointsGained)
	assert.Equal(t, []core.AchievementID{"s3"}, res.NewAchievements)
	assert.Equal(t, int64(4), next.StreakDays)
	assert.Equal(t, int64(4), next.LongestStreak)
}

func TestAwardLevelMilestonesCascade(t *testing.T) {
	th := core.Thresholds{Level: []core.Milestone{
		{ID: "l2", Threshold: 2, Points: 400, Badge: "two"},
		{ID: "l3", Threshold: 3, Points: 0, Badge: "three"},
	}}
	snap := core.NewSnapshot("u")
	snap.CurrentXP = 200

	// 200+100 -> level 2 (xp 71), +400 milestone -> 471 >= 373 -> level 3 (xp 98)
	next, res, err := AwardWorkoutCompletion(snap, RewardEvent{}, day0, th)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.Level)
	assert.Equal(t, int64(98), next.CurrentXP)
	assert.Equal(t, int64(2), res.LevelsGained)
	assert.Equal(t, []core.AchievementID{"l2", "l3"}, res.NewAchievements)
	assert.Equal(t, []core.BadgeID{"two", "three"}, res.NewBadges)
	assert.Equal(t, int64(100+400+2*core.LevelUpBonus), res.PointsGained)
}

func TestAwardStreakResetAfterGap(t *testing.T) {
	last := day0.AddDate(0, 0, -5)
	snap := core.NewSnapshot("u")
	snap.StreakDays = 12
	snap.LongestStreak = 20
	snap.LastWorkoutDate = &last

	next, _, err := AwardWorkoutCompletion(snap, RewardEvent{}, day0, core.Thresholds{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.StreakDays)
	assert.Equal(t, int64(20), next.LongestStreak)
}

func TestAwardRejectsInvalidEvent(t *testing.T) {
	snap := core.NewSnapshot("u")
	for _, sets := range []int64{-1, MaxCompletedSets + 1} {
		next, res, err := AwardWorkoutCompletion(snap, RewardEvent{CompletedSets: sets}, day0, core.DefaultThresholds())
		var invalid *core.InvalidEventError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "completed_sets", invalid.Field)
		assert.Zero(t, res.PointsGained)
		assert.Empty(t, next.UserID)
	}
	assert.Empty(t, snap.Achievements)
}

func TestAwardRejectsInvalidSnapshot(t *testing.T) {
	snap := core.NewSnapshot("u")
	snap.CurrentXP = 280

	_, _, err := AwardWorkoutCompletion(snap, RewardEvent{CompletedSets: 1}, day0, core.DefaultThresholds())
	var invalid *core.InvalidSnapshotError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "current_xp", invalid.Field)
	assert.Equal(t, int64(280), snap.CurrentXP)
}

func TestAwardRejectsOversizedStreak(t *testing.T) {
	last := day0
	snap := core.NewSnapshot("u")
	snap.StreakDays, snap.LongestStreak = math.MaxInt64/StreakBonusPerDay+1, math.MaxInt64/StreakBonusPerDay+1
	snap.LastWorkoutDate = &last

	_, _, err := AwardWorkoutCompletion(snap, RewardEvent{}, day0.AddDate(0, 0, 1), core.Thresholds{})
	var invalid *core.InvalidSnapshotError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "longest_streak", invalid.Field)

	snap.StreakDays, snap.LongestStreak = core.MaxStreakDays, core.MaxStreakDays
	_, res, err := AwardWorkoutCompletion(snap, RewardEvent{}, day0.AddDate(0, 0, 1), core.Thresholds{})
	require.NoError(t, err)
	assert.Equal(t, int64(core.MaxStreakDays+1), res.StreakDays)
}

func TestAwardRejectsBackdatedWorkout(t *testing.T) {
	last := day0
	snap := core.NewSnapshot("u")
	snap.StreakDays, snap.LongestStreak = 1, 1
	snap.LastWorkoutDate = &last

	_, _, err := AwardWorkoutCompletion(snap, RewardEvent{}, day0.AddDate(0, 0, -2), core.Thresholds{})
	var invalid *core.InvalidEventError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "time", invalid.Field)
}

func TestAwardRaceDoesNotDoubleUnlock(t *testing.T) {
	th := core.DefaultThresholds()
	prior := core.NewSnapshot("u")

	a, resA, err := AwardWorkoutCompletion(prior, RewardEvent{CompletedSets: 2}, day0, th)
	require.NoError(t, err)
	_, resB, err := AwardWorkoutCompletion(prior, RewardEvent{CompletedSets: 2}, day0, th)
	require.NoError(t, err)
	require.Equal(t, resA.NewAchievements, resB.NewAchievements)

	// the losing writer recomputes from the winner's snapshot
	retry, resRetry, err := AwardWorkoutCompletion(a, RewardEvent{CompletedSets: 2}, day0, th)
	require.NoError(t, err)
	assert.NotContains(t, resRetry.NewAchievements, core.AchievementID("first_workout"))
	assert.NotContains(t, resRetry.NewBadges, core.BadgeID("first_steps"))
	assert.Len(t, retry.Achievements, len(a.Achievements))
}

func TestAwardInvariantsHoldOverManyWorkouts(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	th := core.DefaultThresholds()
	snap := core.NewSnapshot("u")
	now := day0
	reported := map[core.AchievementID]int{}
	badges := map[core.BadgeID]int{}

	for i := 0; i < 400; i++ {
		// mostly consecutive days with occasional gaps and same-day repeats
		switch r := rng.IntN(10); {
		case r < 6:
			now = now.AddDate(0, 0, 1)
		case r < 8:
			now = now.Add(time.Hour)
		default:
			now = now.AddDate(0, 0, 2+rng.IntN(5))
		}
		next, res, err := AwardWorkoutCompletion(snap, RewardEvent{CompletedSets: int64(rng.IntN(12))}, now, th)
		require.NoError(t, err)

		require.GreaterOrEqual(t, next.Points, snap.Points)
		require.Equal(t, snap.WorkoutsCompleted+1, next.WorkoutsCompleted)
		require.GreaterOrEqual(t, next.TotalSets, snap.TotalSets)
		require.GreaterOrEqual(t, len(next.Achievements), len(snap.Achievements))
		require.GreaterOrEqual(t, next.Level, snap.Level)
		require.GreaterOrEqual(t, next.CurrentXP, int64(0))
		require.Less(t, next.CurrentXP, core.XPRequiredFor(next.Level+1))
		require.GreaterOrEqual(t, next.LongestStreak, next.StreakDays)
		require.NoError(t, next.Validate())

		for _, id := range res.NewAchievements {
			reported[id]++
			require.Equal(t, 1, reported[id], "achievement %s reported twice", id)
		}
		for _, b := range res.NewBadges {
			badges[b]++
			require.Equal(t, 1, badges[b], "badge %s reported twice", b)
		}
		snap = next
	}
	assert.Len(t, snap.Achievements, len(reported))
	assert.Len(t, snap.Badges, len(badges))
}

func TestRewardEventValidate(t *testing.T) {
	assert.NoError(t, RewardEvent{}.Validate())
	assert.NoError(t, RewardEvent{CompletedSets: MaxCompletedSets}.Validate())
	err := RewardEvent{CompletedSets: -3}.Validate()
	var invalid *core.InvalidEventError
	assert.True(t, errors.As(err, &invalid))
}
