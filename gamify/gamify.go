package gamify

import (
	"log/slog"

	mem "fitprogress/adapters/memory"
	"fitprogress/analytics"
	"fitprogress/core"
	"fitprogress/engine"
	"fitprogress/leaderboard"
	"fitprogress/realtime"
)

// Option configures the progress service builder.
type Option func(*config)

type config struct {
	storage    engine.Storage
	mode       engine.DispatchMode
	thresholds *core.Thresholds
	clock      engine.Clock
	board      leaderboard.Board
	noBoard    bool
	hub        *realtime.Hub
	hooks      []analytics.Hook
	logger     *slog.Logger
	attempts   int
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithThresholds replaces the built-in milestone catalog.
func WithThresholds(t core.Thresholds) Option { return func(c *config) { c.thresholds = &t } }

// WithClock overrides the wall clock.
func WithClock(clk engine.Clock) Option { return func(c *config) { c.clock = clk } }

// WithLeaderboard sets the board kept in sync with saved snapshots. Passing
// nil disables the leaderboard.
func WithLeaderboard(b leaderboard.Board) Option {
	return func(c *config) {
		c.board = b
		c.noBoard = b == nil
	}
}

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithHooks subscribes analytics hooks to every engine event.
func WithHooks(hooks ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, hooks...) }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithSaveAttempts bounds retries after a version conflict.
func WithSaveAttempts(n int) Option { return func(c *config) { c.attempts = n } }

// New builds a configured ProgressService. If not provided, defaults are used:
//   - storage: in-memory
//   - thresholds: core.DefaultThresholds
//   - leaderboard: skip list
//   - dispatch: async
func New(opts ...Option) *engine.ProgressService {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	thresholds := core.DefaultThresholds()
	if cfg.thresholds != nil {
		thresholds = *cfg.thresholds
	}
	if cfg.board == nil && !cfg.noBoard {
		cfg.board = leaderboard.NewSkipList()
	}

	svcOpts := []engine.ServiceOption{
		engine.WithClock(cfg.clock),
		engine.WithLogger(cfg.logger),
		engine.WithSaveAttempts(cfg.attempts),
	}
	if cfg.board != nil {
		svcOpts = append(svcOpts, engine.WithLeaderboard(cfg.board))
	}

	bus := engine.NewEventBus(cfg.mode)
	svc := engine.NewProgressService(cfg.storage, bus, thresholds, svcOpts...)
	if cfg.hub != nil {
		svc.SubscribeAll(cfg.hub.Broadcast)
	}
	if bridge := analytics.NewBridge(cfg.hooks...); bridge.Len() > 0 {
		svc.SubscribeAll(bridge.Handle)
	}
	return svc
}
