package sqlx_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "fitprogress/adapters/sqlx"
	"fitprogress/core"
)

func newSQLiteStore(t *testing.T) *storage.Store {
	t.Helper()
	cfg := storage.DefaultConfig(storage.DriverSQLite)
	cfg.DSN = filepath.Join(t.TempDir(), "progress.db")
	store, err := storage.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLite_RoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	snap, err := store.LoadProgress(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(0), snap.Version)

	last := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	snap.Points = 180
	snap.CurrentXP = 180
	snap.WorkoutsCompleted = 1
	snap.TotalSets = 3
	snap.StreakDays, snap.LongestStreak = 1, 1
	snap.LastWorkoutDate = &last
	snap.UpdatedAt = last
	snap.Achievements["first_workout"] = struct{}{}
	snap.Badges["first_steps"] = struct{}{}
	require.NoError(t, store.SaveProgress(ctx, snap))

	got, err := store.LoadProgress(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, int64(180), got.Points)
	assert.Equal(t, int64(3), got.TotalSets)
	assert.True(t, got.UpdatedAt.Equal(last))
	require.NotNil(t, got.LastWorkoutDate)
	assert.True(t, got.LastWorkoutDate.Equal(last))
	assert.Equal(t, []core.AchievementID{"first_workout"}, got.AchievementList())
	assert.Equal(t, []core.BadgeID{"first_steps"}, got.BadgeList())

	got.Points = 560
	got.Level = 2
	got.CurrentXP = 131
	got.Achievements["workouts_10"] = struct{}{}
	require.NoError(t, store.SaveProgress(ctx, got))

	again, err := store.LoadProgress(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version)
	assert.Equal(t, int64(2), again.Level)
	assert.Len(t, again.Achievements, 2)

	users, err := store.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.UserID{"alice"}, users)
}

func TestSQLite_VersionConflicts(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	fresh := core.NewSnapshot("bob")
	require.NoError(t, store.SaveProgress(ctx, fresh))

	// a second first-insert loses
	err := store.SaveProgress(ctx, fresh)
	require.True(t, errors.Is(err, core.ErrVersionConflict), "got %v", err)

	stale := fresh
	stale.Version = 7
	err = store.SaveProgress(ctx, stale)
	require.True(t, errors.Is(err, core.ErrVersionConflict), "got %v", err)

	got, err := store.LoadProgress(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	_, err := storage.New(context.Background(), storage.Config{Driver: "oracle", DSN: "x"})
	require.Error(t, err)

	_, err = storage.New(context.Background(), storage.Config{Driver: storage.DriverSQLite})
	require.Error(t, err)
}
