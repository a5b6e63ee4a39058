package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "fitprogress/adapters/memory"
	"fitprogress/core"
	"fitprogress/leaderboard"
)

func fixedClock(t time.Time) Clock { return ClockFunc(func() time.Time { return t }) }

func TestCompleteWorkoutPersistsAndPublishes(t *testing.T) {
	store := mem.New()
	bus := NewEventBus(DispatchSync)
	board := leaderboard.NewSkipList()
	svc := NewProgressService(store, bus, core.DefaultThresholds(), WithClock(fixedClock(day0)), WithLeaderboard(board))
	defer svc.Close()

	var types []core.EventType
	svc.SubscribeAll(func(ctx context.Context, e core.Event) { types = append(types, e.Type) })

	res, snap, err := svc.CompleteWorkout(context.Background(), " Alice ", RewardEvent{CompletedSets: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(180), res.PointsGained)
	assert.Equal(t, core.UserID("alice"), snap.UserID)
	assert.Equal(t, int64(1), snap.Version)

	stored, err := svc.GetProgress(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, snap.Points, stored.Points)
	assert.Equal(t, int64(1), stored.Version)
	assert.True(t, stored.HasAchievement("first_workout"))

	assert.Equal(t, []core.EventType{
		core.EventWorkoutCompleted,
		core.EventPointsAdded,
		core.EventStreakUpdated,
		core.EventAchievementUnlocked,
		core.EventBadgeAwarded,
	}, types)

	top := svc.Leaderboard(10)
	require.Len(t, top, 1)
	assert.Equal(t, core.UserID("alice"), top[0].User)
	assert.Equal(t, int64(180), top[0].Points)
}

func TestCompleteWorkoutLevelUpEvent(t *testing.T) {
	svc := NewProgressService(mem.New(), NewEventBus(DispatchSync), core.Thresholds{}, WithClock(fixedClock(day0)))
	defer svc.Close()

	levels := 0
	svc.Subscribe(core.EventLevelUp, func(ctx context.Context, e core.Event) {
		levels++
		assert.Equal(t, int64(2), e.Level)
	})
	_, _, err := svc.CompleteWorkout(context.Background(), "u", RewardEvent{CompletedSets: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, levels)
	_, snap, err := svc.CompleteWorkout(context.Background(), "u", RewardEvent{CompletedSets: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Level)
	assert.Equal(t, 1, levels)
}

func TestCompleteWorkoutRejectsBadInput(t *testing.T) {
	store := mem.New()
	svc := NewProgressService(store, NewEventBus(DispatchSync), core.DefaultThresholds())
	defer svc.Close()

	_, _, err := svc.CompleteWorkout(context.Background(), "  ", RewardEvent{})
	require.Error(t, err)

	_, _, err = svc.CompleteWorkout(context.Background(), "u", RewardEvent{CompletedSets: -1})
	var invalid *core.InvalidEventError
	require.ErrorAs(t, err, &invalid)

	snap, err := store.LoadProgress(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
}

// racyStore lets another writer win the first save attempts.
type racyStore struct {
	*mem.Store
	conflicts atomic.Int64
	saves     atomic.Int64
}

func (r *racyStore) SaveProgress(ctx context.Context, snap core.ProgressionSnapshot) error {
	r.saves.Add(1)
	if r.conflicts.Load() > 0 {
		r.conflicts.Add(-1)
		return core.ErrVersionConflict
	}
	return r.Store.SaveProgress(ctx, snap)
}

func TestCompleteWorkoutRetriesOnVersionConflict(t *testing.T) {
	store := &racyStore{Store: mem.New()}
	store.conflicts.Store(2)
	svc := NewProgressService(store, NewEventBus(DispatchSync), core.DefaultThresholds())
	defer svc.Close()

	_, snap, err := svc.CompleteWorkout(context.Background(), "u", RewardEvent{CompletedSets: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), store.saves.Load())
	assert.Equal(t, int64(1), snap.WorkoutsCompleted)
}

func TestCompleteWorkoutGivesUpAfterAttempts(t *testing.T) {
	store := &racyStore{Store: mem.New()}
	store.conflicts.Store(10)
	svc := NewProgressService(store, NewEventBus(DispatchSync), core.DefaultThresholds(), WithSaveAttempts(2))
	defer svc.Close()

	_, _, err := svc.CompleteWorkout(context.Background(), "u", RewardEvent{})
	require.True(t, errors.Is(err, core.ErrVersionConflict))
	assert.Equal(t, int64(2), store.saves.Load())
}

func TestCompleteWorkoutConcurrentSameUser(t *testing.T) {
	store := mem.New()
	svc := NewProgressService(store, NewEventBus(DispatchSync), core.DefaultThresholds(), WithClock(fixedClock(day0)))
	defer svc.Close()

	var mu sync.Mutex
	unlocks := map[core.AchievementID]int{}
	svc.Subscribe(core.EventAchievementUnlocked, func(ctx context.Context, e core.Event) {
		mu.Lock()
		unlocks[e.Achievement]++
		mu.Unlock()
	})

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.CompleteWorkout(context.Background(), "u", RewardEvent{CompletedSets: 2})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := svc.GetProgress(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, int64(n), snap.WorkoutsCompleted)
	assert.Equal(t, int64(2*n), snap.TotalSets)
	assert.Equal(t, int64(n), snap.Version)
	for id, c := range unlocks {
		assert.Equal(t, 1, c, "achievement %s unlocked %d times", id, c)
	}
	assert.Equal(t, 1, unlocks["first_workout"])
	assert.Equal(t, 1, unlocks["workouts_25"])
	assert.Equal(t, 0, svc.locks.size())
}

func TestCompleteWorkoutHonoursContext(t *testing.T) {
	svc := NewProgressService(mem.New(), NewEventBus(DispatchSync), core.DefaultThresholds())
	defer svc.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := svc.CompleteWorkout(ctx, "u", RewardEvent{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestUserLocksSerialize(t *testing.T) {
	l := newUserLocks()
	unlock := l.lock("a")
	acquired := make(chan struct{})
	go func() {
		u := l.lock("a")
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("second lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	other := l.lock("b")
	other()
	unlock()
	<-acquired
	assert.Equal(t, 0, l.size())
}

func TestWarmLeaderboard(t *testing.T) {
	store := mem.New()
	seed := NewProgressService(store, NewEventBus(DispatchSync), core.DefaultThresholds(), WithClock(fixedClock(day0)))
	for _, u := range []core.UserID{"alice", "bob"} {
		_, _, err := seed.CompleteWorkout(context.Background(), u, RewardEvent{CompletedSets: 1})
		require.NoError(t, err)
	}
	_, _, err := seed.CompleteWorkout(context.Background(), "bob", RewardEvent{CompletedSets: 2})
	require.NoError(t, err)
	seed.Close()

	board := leaderboard.NewSkipList()
	svc := NewProgressService(store, NewEventBus(DispatchSync), core.DefaultThresholds(), WithLeaderboard(board))
	defer svc.Close()

	n, err := svc.WarmLeaderboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	top := svc.Leaderboard(2)
	require.Len(t, top, 2)
	assert.Equal(t, core.UserID("bob"), top[0].User)
}

func TestWarmLeaderboardWithoutBoard(t *testing.T) {
	svc := NewProgressService(mem.New(), NewEventBus(DispatchSync), core.DefaultThresholds())
	defer svc.Close()
	n, err := svc.WarmLeaderboard(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
