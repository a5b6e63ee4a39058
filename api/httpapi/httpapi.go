package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	wsadapter "fitprogress/adapters/websocket"
	"fitprogress/analytics"
	"fitprogress/core"
	"fitprogress/engine"
	"fitprogress/leaderboard"
	"fitprogress/metrics"
	"fitprogress/realtime"
)

const maxBodyBytes = 1 << 20

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// JWTSecret, if set, also admits HS256 athlete tokens (see IssueAthleteToken).
	// An athlete token only reaches its own /users and /ws routes.
	JWTSecret []byte
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup is how long an idle client's bucket is kept.
	RateLimitCleanup time.Duration
	// LeaderboardSize is the default ?limit for the leaderboard route.
	LeaderboardSize int
	// Stats, if set, serves the engagement rollups under /stats.
	Stats *analytics.ProgressStats
	// Metrics, if set, records request counters and latencies.
	Metrics *metrics.Manager
	Logger  *slog.Logger
}

// WorkoutRequest is the body of a workout completion.
type WorkoutRequest struct {
	CompletedSets int64 `json:"completed_sets"`
}

// ProgressView is the wire form of a snapshot with derived ladder fields.
type ProgressView struct {
	UserID            core.UserID          `json:"user_id"`
	Points            int64                `json:"points"`
	Level             int64                `json:"level"`
	CurrentXP         int64                `json:"current_xp"`
	NextLevelXP       int64                `json:"next_level_xp"`
	LevelProgress     float64              `json:"level_progress"`
	StreakDays        int64                `json:"streak_days"`
	LongestStreak     int64                `json:"longest_streak"`
	WorkoutsCompleted int64                `json:"workouts_completed"`
	TotalSets         int64                `json:"total_sets"`
	Achievements      []core.AchievementID `json:"achievements"`
	Badges            []core.BadgeID       `json:"badges"`
	LastWorkoutDate   *time.Time           `json:"last_workout_date,omitempty"`
	Version           int64                `json:"version"`
	UpdatedAt         time.Time            `json:"updated_at"`
	// Rank is the leaderboard position, 0 when the athlete is not ranked.
	Rank int `json:"rank,omitempty"`
}

// NewProgressView derives the wire form of snap.
func NewProgressView(snap core.ProgressionSnapshot) ProgressView {
	return ProgressView{
		UserID:            snap.UserID,
		Points:            snap.Points,
		Level:             snap.Level,
		CurrentXP:         snap.CurrentXP,
		NextLevelXP:       core.XPRequiredFor(snap.Level + 1),
		LevelProgress:     core.LevelProgress(snap.Level, snap.CurrentXP),
		StreakDays:        snap.StreakDays,
		LongestStreak:     snap.LongestStreak,
		WorkoutsCompleted: snap.WorkoutsCompleted,
		TotalSets:         snap.TotalSets,
		Achievements:      snap.AchievementList(),
		Badges:            snap.BadgeList(),
		LastWorkoutDate:   snap.LastWorkoutDate,
		Version:           snap.Version,
		UpdatedAt:         snap.UpdatedAt,
	}
}

// WorkoutResponse is returned by a workout completion.
type WorkoutResponse struct {
	Result   engine.RewardResult `json:"result"`
	Progress ProgressView        `json:"progress"`
}

// StatsResponse is the /stats payload.
type StatsResponse struct {
	Summary           analytics.DailySummary       `json:"summary"`
	Activity          analytics.Activity           `json:"activity"`
	TopAchievements   []analytics.AchievementCount `json:"top_achievements"`
	LevelDistribution map[int64]int                `json:"level_distribution"`
	LongestStreak     int64                        `json:"longest_streak"`
}

type api struct {
	svc    *engine.ProgressService
	opts   Options
	logger *slog.Logger
}

// NewMux builds an http.Handler exposing the progression REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/users/{id}/workouts   {"completed_sets": 3}
//   - GET  {prefix}/users/{id}
//   - GET  {prefix}/leaderboard?limit=10&offset=20
//   - GET  {prefix}/milestones
//   - GET  {prefix}/stats?day=2024-05-06
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws?user={id}
func NewMux(svc *engine.ProgressService, hub *realtime.Hub, opts Options) http.Handler {
	a := &api{svc: svc, opts: opts, logger: opts.Logger}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.opts.LeaderboardSize <= 0 {
		a.opts.LeaderboardSize = 10
	}
	mux := http.NewServeMux()

	// health
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/healthz"), func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, r, svc)
	})

	// WebSocket events
	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), ownStreamOnly(wsadapter.Handler(hub)))
	}

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/leaderboard"), a.leaderboard)
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/milestones"), a.milestones)
	if opts.Stats != nil {
		mux.HandleFunc(withPrefix(opts.PathPrefix, "/stats"), a.stats)
	}

	// Users API
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/users/"), a.users)

	var handler http.Handler = mux
	authEnabled := len(opts.APIKeys) > 0 || len(opts.JWTSecret) > 0
	if authEnabled {
		handler = withAuth(handler)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup))
	}
	if authEnabled {
		handler = withIdentity(handler, newAuthenticator(opts.APIKeys, opts.JWTSecret))
	}
	// CORS sits outside auth so preflights and error responses carry its headers.
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if opts.Metrics != nil {
		handler = withMetrics(handler, opts.Metrics, opts.PathPrefix)
	}
	return handler
}

func (a *api) users(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, a.opts.PathPrefix)
	parts := split(path, '/')
	if len(parts) < 2 || len(parts) > 3 {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		return
	}
	user, err := core.NormalizeUserID(core.UserID(parts[1]))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
		return
	}
	if athlete, ok := athleteFrom(r.Context()); ok && athlete != user {
		writeError(w, http.StatusForbidden, "forbidden", "athlete tokens may only access their own progress", nil)
		return
	}

	switch {
	case len(parts) == 3 && parts[2] == "workouts" && r.Method == http.MethodPost:
		a.completeWorkout(w, r, user)
	case len(parts) == 2 && r.Method == http.MethodGet:
		snap, err := a.svc.GetProgress(r.Context(), user)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		view := NewProgressView(snap)
		if e, ok := a.svc.Rank(user); ok {
			view.Rank = e.Rank
		}
		writeJSON(w, view)
	case len(parts) == 3 && parts[2] == "workouts", len(parts) == 2:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed", nil)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	}
}

func (a *api) completeWorkout(w http.ResponseWriter, r *http.Request, user core.UserID) {
	var req WorkoutRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	result, snap, err := a.svc.CompleteWorkout(r.Context(), user, engine.RewardEvent{CompletedSets: req.CompletedSets})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, WorkoutResponse{Result: result, Progress: NewProgressView(snap)})
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed", nil)
		return
	}
	limit := a.opts.LeaderboardSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer between 1 and 1000", nil)
			return
		}
		limit = n
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer", nil)
			return
		}
		offset = n
	}
	entries := a.svc.LeaderboardPage(offset, limit)
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	writeJSON(w, map[string]any{"entries": entries})
}

func (a *api) milestones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed", nil)
		return
	}
	writeJSON(w, a.svc.Thresholds())
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed", nil)
		return
	}
	at := time.Now().UTC()
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_day", "day must be YYYY-MM-DD", nil)
			return
		}
		at = parsed
	}
	st := a.opts.Stats
	writeJSON(w, StatsResponse{
		Summary:           st.Summary(at.Format(time.DateOnly)),
		Activity:          st.ActiveAround(at),
		TopAchievements:   st.TopAchievements(10),
		LevelDistribution: st.LevelDistribution(),
		LongestStreak:     st.LongestStreak(),
	})
}

// writeServiceError maps engine and storage errors onto HTTP statuses.
func (a *api) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidEvent    *core.InvalidEventError
		invalidSnapshot *core.InvalidSnapshotError
	)
	switch {
	case errors.As(err, &invalidEvent):
		writeError(w, http.StatusBadRequest, "invalid_event", err.Error(), map[string]string{"field": invalidEvent.Field})
	case errors.As(err, &invalidSnapshot):
		a.logger.WarnContext(r.Context(), "stored progression is invalid", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusConflict, "invalid_snapshot", err.Error(), map[string]string{"field": invalidSnapshot.Field})
	case errors.Is(err, core.ErrVersionConflict):
		if a.opts.Metrics != nil {
			a.opts.Metrics.CounterSaveConflict.Inc()
		}
		writeError(w, http.StatusConflict, "conflict", "progress was modified concurrently, retry the request", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	default:
		a.logger.ErrorContext(r.Context(), "request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

// Helpers

// healthCheck verifies the service is working properly
func healthCheck(w http.ResponseWriter, r *http.Request, svc *engine.ProgressService) {
	ctx := r.Context()

	// Loading never writes, so probing an unknown athlete is safe.
	dummyUser := core.UserID("healthcheck_probe")
	_, err := svc.GetProgress(ctx, dummyUser)

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
		"dropped_events": svc.Dropped(),
	}

	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
		_ = json.NewEncoder(w).Encode(status)
		return
	}
	writeJSON(w, status)
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func split(p string, sep rune) []string {
	var parts []string
	cur := make([]rune, 0, len(p))
	// trim leading '/'
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	for _, r := range p {
		if r == sep {
			if len(cur) > 0 {
				parts = append(parts, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}
