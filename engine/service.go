package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fitprogress/core"
	"fitprogress/leaderboard"
)

// DefaultSaveAttempts bounds the load/award/save cycle when another writer
// keeps winning the version race.
const DefaultSaveAttempts = 3

// ProgressService wires storage, the reward engine, the event bus and the
// leaderboard into the workout-completion use case.
type ProgressService struct {
	storage    Storage
	bus        *EventBus
	thresholds core.Thresholds
	clock      Clock
	board      leaderboard.Board
	logger     *slog.Logger
	locks      *userLocks
	attempts   int
}

// ServiceOption customizes a ProgressService.
type ServiceOption func(*ProgressService)

// WithClock overrides the wall clock.
func WithClock(c Clock) ServiceOption {
	return func(s *ProgressService) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLeaderboard keeps board in sync with saved snapshots.
func WithLeaderboard(b leaderboard.Board) ServiceOption {
	return func(s *ProgressService) { s.board = b }
}

// WithLogger sets the service logger (defaults to slog.Default()).
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *ProgressService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSaveAttempts overrides DefaultSaveAttempts.
func WithSaveAttempts(n int) ServiceOption {
	return func(s *ProgressService) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func NewProgressService(storage Storage, bus *EventBus, thresholds core.Thresholds, opts ...ServiceOption) *ProgressService {
	if storage == nil || bus == nil {
		panic("NewProgressService requires non-nil storage and bus")
	}
	s := &ProgressService{
		storage:    storage,
		bus:        bus,
		thresholds: thresholds.Normalize(),
		clock:      SystemClock{},
		logger:     slog.Default(),
		locks:      newUserLocks(),
		attempts:   DefaultSaveAttempts,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe convenience method.
func (s *ProgressService) Subscribe(typ core.EventType, handler Handler) func() {
	return s.bus.Subscribe(typ, handler)
}

// SubscribeAll registers handler for every engine event.
func (s *ProgressService) SubscribeAll(handler Handler) func() {
	return s.bus.SubscribeAll(handler)
}

func (s *ProgressService) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// Thresholds returns the active milestone catalog.
func (s *ProgressService) Thresholds() core.Thresholds { return s.thresholds }

// CompleteWorkout records a completed workout for user and returns what it
// earned together with the persisted snapshot.
func (s *ProgressService) CompleteWorkout(ctx context.Context, user core.UserID, ev RewardEvent) (RewardResult, core.ProgressionSnapshot, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return RewardResult{}, core.ProgressionSnapshot{}, err
	}
	if err := ev.Validate(); err != nil {
		return RewardResult{}, core.ProgressionSnapshot{}, err
	}

	unlock := s.locks.lock(normalized)
	defer unlock()

	var (
		next   core.ProgressionSnapshot
		result RewardResult
	)
	now := s.clock.Now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return RewardResult{}, core.ProgressionSnapshot{}, err
		}
		prev, err := s.storage.LoadProgress(ctx, normalized)
		if err != nil {
			return RewardResult{}, core.ProgressionSnapshot{}, fmt.Errorf("load progress for %s: %w", normalized, err)
		}
		next, result, err = AwardWorkoutCompletion(prev, ev, now, s.thresholds)
		if err != nil {
			return RewardResult{}, core.ProgressionSnapshot{}, err
		}
		err = s.storage.SaveProgress(ctx, next)
		if err == nil {
			next.Version = prev.Version + 1
			break
		}
		if !errors.Is(err, core.ErrVersionConflict) || attempt >= s.attempts {
			return RewardResult{}, core.ProgressionSnapshot{}, fmt.Errorf("save progress for %s: %w", normalized, err)
		}
		s.logger.DebugContext(ctx, "progress save lost version race, retrying",
			"user_id", normalized, "attempt", attempt, "version", prev.Version)
	}

	if s.board != nil {
		s.board.Update(normalized, next.Points, next.Level)
	}
	s.publishResult(ctx, normalized, ev, next, result, now)
	return result, next, nil
}

func (s *ProgressService) publishResult(ctx context.Context, user core.UserID, ev RewardEvent, snap core.ProgressionSnapshot, res RewardResult, now time.Time) {
	s.bus.Publish(ctx, core.NewWorkoutCompleted(user, ev.CompletedSets, snap.WorkoutsCompleted, now))
	s.bus.Publish(ctx, core.NewPointsAdded(user, res.PointsGained, snap.Points, now))
	s.bus.Publish(ctx, core.NewStreakUpdated(user, snap.StreakDays, snap.LongestStreak, now))
	for _, id := range res.NewAchievements {
		s.bus.Publish(ctx, core.NewAchievementUnlocked(user, id, now))
	}
	for _, b := range res.NewBadges {
		s.bus.Publish(ctx, core.NewBadgeAwarded(user, b, now))
	}
	if res.LevelsGained > 0 {
		s.bus.Publish(ctx, core.NewLevelUp(user, res.NewLevel, now))
	}
}

// GetProgress returns the stored snapshot (or a fresh one) for user.
func (s *ProgressService) GetProgress(ctx context.Context, user core.UserID) (core.ProgressionSnapshot, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.ProgressionSnapshot{}, err
	}
	return s.storage.LoadProgress(ctx, normalized)
}

// Leaderboard returns the top n athletes, or nil when no board is wired.
func (s *ProgressService) Leaderboard(n int) []leaderboard.Entry {
	if s.board == nil {
		return nil
	}
	return s.board.TopN(n)
}

// LeaderboardPage returns up to limit athletes after skipping offset.
func (s *ProgressService) LeaderboardPage(offset, limit int) []leaderboard.Entry {
	if s.board == nil {
		return nil
	}
	return s.board.Range(offset, limit)
}

// Rank returns user's leaderboard entry, if a board is wired and the user is on it.
func (s *ProgressService) Rank(user core.UserID) (leaderboard.Entry, bool) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil || s.board == nil {
		return leaderboard.Entry{}, false
	}
	return s.board.Get(normalized)
}

// WarmLeaderboard seeds the board from every stored snapshot. It returns the
// number of athletes loaded, or 0 when the store cannot list users or no
// board is wired.
func (s *ProgressService) WarmLeaderboard(ctx context.Context) (int, error) {
	lister, ok := s.storage.(UserLister)
	if !ok || s.board == nil {
		return 0, nil
	}
	users, err := lister.Users(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		snap, err := s.storage.LoadProgress(ctx, u)
		if err != nil {
			return 0, fmt.Errorf("load progress for %s: %w", u, err)
		}
		s.board.Update(u, snap.Points, snap.Level)
	}
	s.logger.InfoContext(ctx, "leaderboard warmed", "athletes", len(users))
	return len(users), nil
}

// Dropped reports events lost by the async bus.
func (s *ProgressService) Dropped() int64 { return s.bus.Dropped() }

// Close stops the event bus.
func (s *ProgressService) Close() { s.bus.Close() }
