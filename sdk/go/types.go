package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Progress mirrors the GET /users/{id} payload.
type Progress struct {
	UserID            string     `json:"user_id"`
	Points            int64      `json:"points"`
	Level             int64      `json:"level"`
	CurrentXP         int64      `json:"current_xp"`
	NextLevelXP       int64      `json:"next_level_xp"`
	LevelProgress     float64    `json:"level_progress"`
	StreakDays        int64      `json:"streak_days"`
	LongestStreak     int64      `json:"longest_streak"`
	WorkoutsCompleted int64      `json:"workouts_completed"`
	TotalSets         int64      `json:"total_sets"`
	Achievements      []string   `json:"achievements"`
	Badges            []string   `json:"badges"`
	LastWorkoutDate   *time.Time `json:"last_workout_date,omitempty"`
	Version           int64      `json:"version"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Rank              int        `json:"rank,omitempty"`
}

// RewardResult reports what one workout earned.
type RewardResult struct {
	PointsGained    int64    `json:"points_gained"`
	NewLevel        int64    `json:"new_level"`
	LevelsGained    int64    `json:"levels_gained"`
	CurrentXP       int64    `json:"current_xp"`
	NextLevelXP     int64    `json:"next_level_xp"`
	StreakDays      int64    `json:"streak_days"`
	LongestStreak   int64    `json:"longest_streak"`
	NewAchievements []string `json:"new_achievements"`
	NewBadges       []string `json:"new_badges"`
}

// WorkoutResponse is returned by CompleteWorkout.
type WorkoutResponse struct {
	Result   RewardResult `json:"result"`
	Progress Progress     `json:"progress"`
}

// LeaderboardEntry is one ranked athlete.
type LeaderboardEntry struct {
	UserID string `json:"user_id"`
	Points int64  `json:"points"`
	Level  int64  `json:"level"`
	Rank   int    `json:"rank"`
}

// Milestone is one entry of the server's milestone catalog.
type Milestone struct {
	ID        string `json:"id"`
	Family    string `json:"family"`
	Name      string `json:"name,omitempty"`
	Threshold int64  `json:"threshold"`
	Points    int64  `json:"points"`
	Badge     string `json:"badge"`
}

// Milestones groups the catalog by family.
type Milestones struct {
	Workout []Milestone `json:"workout"`
	Streak  []Milestone `json:"streak"`
	Level   []Milestone `json:"level"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status        string         `json:"status"`
	Checks        map[string]any `json:"checks"`
	DroppedEvents int64          `json:"dropped_events"`
}

// APIError is the decoded error body of a failed request.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsConflict reports whether err is a 409 from the server. Conflicts are
// safe to retry.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict && apiErr.Code == "conflict"
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
