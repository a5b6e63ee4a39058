package gamify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "fitprogress/adapters/memory"
	"fitprogress/analytics"
	"fitprogress/core"
	"fitprogress/engine"
	"fitprogress/realtime"
)

var morning = time.Date(2024, 5, 6, 7, 30, 0, 0, time.UTC)

func clock() engine.Clock { return engine.ClockFunc(func() time.Time { return morning }) }

func TestNewDefaultsAndOptions(t *testing.T) {
	hub := realtime.NewHub()
	stats := analytics.NewProgressStats()
	svc := New(
		WithRealtime(hub),
		WithHooks(stats),
		WithStorage(mem.New()),
		WithDispatchMode(engine.DispatchSync),
		WithClock(clock()),
	)
	defer svc.Close()

	_, ch := hub.Subscribe(16)
	res, snap, err := svc.CompleteWorkout(context.Background(), "alice", engine.RewardEvent{CompletedSets: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(180), res.PointsGained)
	assert.Equal(t, int64(1), snap.Version)

	first := <-ch
	assert.Equal(t, core.EventWorkoutCompleted, first.Type)
	assert.Equal(t, core.UserID("alice"), first.UserID)

	sum := stats.Summary(morning.Format("2006-01-02"))
	assert.Equal(t, int64(1), sum.Workouts)
	assert.Equal(t, int64(180), sum.PointsAwarded)

	top := svc.Leaderboard(5)
	require.Len(t, top, 1)
	assert.Equal(t, int64(180), top[0].Points)
}

func TestInMemoryFallback(t *testing.T) {
	svc := New(WithDispatchMode(engine.DispatchSync))
	defer svc.Close()

	_, _, err := svc.CompleteWorkout(context.Background(), "bob", engine.RewardEvent{CompletedSets: 1})
	require.NoError(t, err)
	snap, err := svc.GetProgress(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.WorkoutsCompleted)
	assert.Equal(t, core.DefaultThresholds().Len(), svc.Thresholds().Len())
}

func TestCustomThresholdsAndNoBoard(t *testing.T) {
	custom := core.Thresholds{Workout: []core.Milestone{{ID: "w1", Threshold: 1, Points: 5, Badge: "b1"}}}
	svc := New(WithThresholds(custom), WithLeaderboard(nil), WithDispatchMode(engine.DispatchSync), WithClock(clock()))
	defer svc.Close()

	res, _, err := svc.CompleteWorkout(context.Background(), "carol", engine.RewardEvent{})
	require.NoError(t, err)
	assert.Equal(t, []core.AchievementID{"w1"}, res.NewAchievements)
	assert.Equal(t, int64(105), res.PointsGained)
	assert.Nil(t, svc.Leaderboard(3))
}
