package analytics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"fitprogress/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// DailySummary is the per-day rollup reported by ProgressStats.
type DailySummary struct {
	Day                  string `json:"day"`
	ActiveAthletes       int    `json:"active_athletes"`
	Workouts             int64  `json:"workouts"`
	Sets                 int64  `json:"sets"`
	PointsAwarded        int64  `json:"points_awarded"`
	LevelUps             int64  `json:"level_ups"`
	AchievementsUnlocked int64  `json:"achievements_unlocked"`
	BadgesAwarded        int64  `json:"badges_awarded"`
}

// AchievementCount pairs an achievement with how many athletes unlocked it.
type AchievementCount struct {
	Achievement core.AchievementID `json:"achievement"`
	Count       int64              `json:"count"`
}

// ProgressStats aggregates workout and reward events into engagement KPIs.
type ProgressStats struct {
	mu sync.RWMutex

	// active athletes per bucket
	daily   map[string]map[core.UserID]struct{}
	weekly  map[string]map[core.UserID]struct{}
	monthly map[string]map[core.UserID]struct{}

	days map[string]*DailySummary

	achievements map[core.AchievementID]int64
	badgeHolders map[core.BadgeID]map[core.UserID]struct{}
	// latest known level per athlete, for the distribution
	levels        map[core.UserID]int64
	longestStreak int64
}

func NewProgressStats() *ProgressStats {
	return &ProgressStats{
		daily:        make(map[string]map[core.UserID]struct{}),
		weekly:       make(map[string]map[core.UserID]struct{}),
		monthly:      make(map[string]map[core.UserID]struct{}),
		days:         make(map[string]*DailySummary),
		achievements: make(map[core.AchievementID]int64),
		badgeHolders: make(map[core.BadgeID]map[core.UserID]struct{}),
		levels:       make(map[core.UserID]int64),
	}
}

func (ps *ProgressStats) OnEvent(e core.Event) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	day := dayKey(e.Time)
	track(ps.daily, day, e.UserID)
	track(ps.weekly, weekKey(e.Time), e.UserID)
	track(ps.monthly, monthKey(e.Time), e.UserID)

	sum := ps.days[day]
	if sum == nil {
		sum = &DailySummary{Day: day}
		ps.days[day] = sum
	}

	switch e.Type {
	case core.EventWorkoutCompleted:
		sum.Workouts++
		sum.Sets += e.Delta
		if _, ok := ps.levels[e.UserID]; !ok {
			ps.levels[e.UserID] = 1
		}
	case core.EventPointsAdded:
		if e.Delta > 0 {
			sum.PointsAwarded += e.Delta
		}
	case core.EventLevelUp:
		sum.LevelUps++
		if e.Level > ps.levels[e.UserID] {
			ps.levels[e.UserID] = e.Level
		}
	case core.EventAchievementUnlocked:
		sum.AchievementsUnlocked++
		ps.achievements[e.Achievement]++
	case core.EventBadgeAwarded:
		sum.BadgesAwarded++
		track(ps.badgeHolders, e.Badge, e.UserID)
	case core.EventStreakUpdated:
		if e.Streak > ps.longestStreak {
			ps.longestStreak = e.Streak
		}
	}
}

func track[K comparable](buckets map[K]map[core.UserID]struct{}, key K, user core.UserID) {
	m := buckets[key]
	if m == nil {
		m = make(map[core.UserID]struct{})
		buckets[key] = m
	}
	m[user] = struct{}{}
}

// DailyActive returns the number of athletes seen on day (YYYY-MM-DD).
func (ps *ProgressStats) DailyActive(day string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.daily[day])
}

// WeeklyActive returns the number of athletes seen in an ISO week (YYYY-Www).
func (ps *ProgressStats) WeeklyActive(week string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.weekly[week])
}

// MonthlyActive returns the number of athletes seen in month (YYYY-MM).
func (ps *ProgressStats) MonthlyActive(month string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.monthly[month])
}

// Activity counts the athletes active in the day, ISO week and month that
// contain t.
type Activity struct {
	Daily   int `json:"daily"`
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
}

// ActiveAround reports athlete activity for the periods containing t.
func (ps *ProgressStats) ActiveAround(t time.Time) Activity {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return Activity{
		Daily:   len(ps.daily[dayKey(t)]),
		Weekly:  len(ps.weekly[weekKey(t)]),
		Monthly: len(ps.monthly[monthKey(t)]),
	}
}

// Summary returns the rollup for day. Days without events yield a zero summary.
func (ps *ProgressStats) Summary(day string) DailySummary {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := DailySummary{Day: day}
	if s := ps.days[day]; s != nil {
		out = *s
	}
	out.ActiveAthletes = len(ps.daily[day])
	return out
}

// BadgeHolders returns how many athletes hold badge.
func (ps *ProgressStats) BadgeHolders(badge core.BadgeID) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.badgeHolders[badge])
}

// LevelDistribution maps level to the number of athletes currently at it.
func (ps *ProgressStats) LevelDistribution() map[int64]int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make(map[int64]int)
	for _, lvl := range ps.levels {
		out[lvl]++
	}
	return out
}

// LongestStreak is the longest streak observed in any event.
func (ps *ProgressStats) LongestStreak() int64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.longestStreak
}

// TopAchievements returns the most unlocked achievements, most common first.
func (ps *ProgressStats) TopAchievements(limit int) []AchievementCount {
	ps.mu.RLock()
	out := make([]AchievementCount, 0, len(ps.achievements))
	for id, n := range ps.achievements {
		out = append(out, AchievementCount{Achievement: id, Count: n})
	}
	ps.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Achievement < out[j].Achievement
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
