package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates domain events.
type EventType string

const (
	EventWorkoutCompleted    EventType = "workout_completed"
	EventPointsAdded         EventType = "points_added"
	EventStreakUpdated       EventType = "streak_updated"
	EventAchievementUnlocked EventType = "achievement_unlocked"
	EventBadgeAwarded        EventType = "badge_awarded"
	EventLevelUp             EventType = "level_up"
)

// AllEventTypes lists every event the engine publishes.
var AllEventTypes = []EventType{
	EventWorkoutCompleted,
	EventPointsAdded,
	EventStreakUpdated,
	EventAchievementUnlocked,
	EventBadgeAwarded,
	EventLevelUp,
}

// Event represents an immutable domain event.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Time        time.Time      `json:"time"`
	UserID      UserID         `json:"user_id"`
	Delta       int64          `json:"delta,omitempty"`
	Total       int64          `json:"total,omitempty"`
	Level       int64          `json:"level,omitempty"`
	Streak      int64          `json:"streak,omitempty"`
	Achievement AchievementID  `json:"achievement,omitempty"`
	Badge       BadgeID        `json:"badge,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func newEvent(typ EventType, user UserID, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: typ, Time: at.UTC(), UserID: user}
}

func NewWorkoutCompleted(user UserID, sets, workouts int64, at time.Time) Event {
	ev := newEvent(EventWorkoutCompleted, user, at)
	ev.Delta = sets
	ev.Total = workouts
	return ev
}

func NewPointsAdded(user UserID, delta, total int64, at time.Time) Event {
	ev := newEvent(EventPointsAdded, user, at)
	ev.Delta = delta
	ev.Total = total
	return ev
}

func NewStreakUpdated(user UserID, streak, longest int64, at time.Time) Event {
	ev := newEvent(EventStreakUpdated, user, at)
	ev.Streak = streak
	ev.Total = longest
	return ev
}

func NewAchievementUnlocked(user UserID, id AchievementID, at time.Time) Event {
	ev := newEvent(EventAchievementUnlocked, user, at)
	ev.Achievement = id
	return ev
}

func NewBadgeAwarded(user UserID, badge BadgeID, at time.Time) Event {
	ev := newEvent(EventBadgeAwarded, user, at)
	ev.Badge = badge
	return ev
}

func NewLevelUp(user UserID, level int64, at time.Time) Event {
	ev := newEvent(EventLevelUp, user, at)
	ev.Level = level
	return ev
}
