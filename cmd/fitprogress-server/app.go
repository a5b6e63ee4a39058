package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"

	"fitprogress/adapters/jsonfile"
	mem "fitprogress/adapters/memory"
	redisAdapter "fitprogress/adapters/redis"
	sqlxAdapter "fitprogress/adapters/sqlx"
	"fitprogress/analytics"
	"fitprogress/api/httpapi"
	"fitprogress/config"
	"fitprogress/core"
	"fitprogress/engine"
	"fitprogress/gamify"
	"fitprogress/integrations/webhook"
	"fitprogress/metrics"
	"fitprogress/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Hub           *realtime.Hub
	Service       *engine.ProgressService
	Handler       http.Handler
	Server        *http.Server
	MetricsServer *MetricsServer
}

// MetricsServer serves the Prometheus registry on its own listener. It is
// nil when metrics are disabled.
type MetricsServer struct {
	*http.Server
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	return config.Load()
}

func provideLogger(cfg *config.Config) (*slog.Logger, func()) {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideThresholds(cfg *config.Config) (core.Thresholds, error) {
	return cfg.Rewards.Thresholds()
}

func provideStats() *analytics.ProgressStats {
	return analytics.NewProgressStats()
}

func provideStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	return setupStorage(ctx, cfg, logger)
}

func provideMetrics(cfg *config.Config) *metrics.Manager {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewManager("fitprogress", "server", prometheus.NewRegistry(), cfg.Metrics.CollectSystem)
}

func provideWebhook(cfg *config.Config, logger *slog.Logger) *webhook.Sink {
	ic := cfg.Integrations
	if len(ic.WebhookURLs) == 0 {
		return nil
	}
	types := make([]core.EventType, 0, len(ic.WebhookEvents))
	for _, t := range ic.WebhookEvents {
		types = append(types, core.EventType(t))
	}
	return webhook.New(ic.WebhookURLs,
		webhook.WithClient(&http.Client{Timeout: ic.WebhookTimeout}),
		webhook.WithSecret(ic.WebhookSecret),
		webhook.WithEventTypes(types...),
		webhook.WithRetries(ic.WebhookMaxRetries, webhook.DefaultBackoff),
		webhook.WithLogger(logger),
	)
}

func provideService(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	hub *realtime.Hub,
	storage engine.Storage,
	thresholds core.Thresholds,
	stats *analytics.ProgressStats,
	m *metrics.Manager,
	sink *webhook.Sink,
) (*engine.ProgressService, func(), error) {
	hooks := []analytics.Hook{stats}
	if m != nil {
		hooks = append(hooks, m)
	}
	if sink != nil {
		hooks = append(hooks, sink)
	}
	mode := engine.DispatchSync
	if cfg.Rewards.AsyncEvents {
		mode = engine.DispatchAsync
	}
	svc := gamify.New(
		gamify.WithRealtime(hub),
		gamify.WithStorage(storage),
		gamify.WithThresholds(thresholds),
		gamify.WithHooks(hooks...),
		gamify.WithDispatchMode(mode),
		gamify.WithLogger(logger),
		gamify.WithSaveAttempts(cfg.Rewards.SaveAttempts),
	)
	if _, err := svc.WarmLeaderboard(ctx); err != nil {
		svc.Close()
		return nil, nil, fmt.Errorf("warm leaderboard: %w", err)
	}
	if m != nil {
		m.TrackGauge("websocket_subscribers", "Connected websocket subscribers", func() float64 {
			return float64(hub.Subscribers())
		})
		m.TrackGauge("dropped_events", "Events dropped by the async bus and slow websocket subscribers", func() float64 {
			return float64(svc.Dropped() + hub.Dropped())
		})
	}
	return svc, svc.Close, nil
}

func provideHandler(svc *engine.ProgressService, hub *realtime.Hub, cfg *config.Config, stats *analytics.ProgressStats, m *metrics.Manager, logger *slog.Logger) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		JWTSecret:        []byte(cfg.Security.JWTSecret),
		LeaderboardSize:  cfg.Rewards.LeaderboardSize,
		Stats:            stats,
		Metrics:          m,
		Logger:           logger,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func provideMetricsServer(cfg *config.Config, m *metrics.Manager) *MetricsServer {
	if m == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, m.Handler())
	return &MetricsServer{Server: &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}}
}

// setupLogging configures the logger based on configuration. The returned
// func closes the log file, if any.
func setupLogging(cfg *config.Config) (*slog.Logger, func()) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out, closeOut := logOutput(cfg.Logging)
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeOut
}

func logOutput(lc config.LoggingConfig) (io.Writer, func()) {
	switch lc.Output {
	case "stderr":
		return os.Stderr, func() {}
	case "file":
		rotator := &lumberjack.Logger{
			Filename:   lc.File.Path,
			MaxSize:    lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			MaxAge:     lc.File.MaxAgeDays,
			Compress:   lc.File.Compress,
		}
		closeFn := func() { _ = rotator.Close() }
		if lc.File.AlsoStdout {
			return io.MultiWriter(os.Stdout, rotator), closeFn
		}
		return rotator, closeFn
	default:
		return os.Stdout, func() {}
	}
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the appropriate storage adapter based on configuration.
func setupStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), noop, nil
	case "file":
		store, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "redis":
		store, err := redisAdapter.New(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store, closer(logger, "redis", store.Close), nil
	case "sql":
		store, err := sqlxAdapter.New(ctx, cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		return store, closer(logger, "sql", store.Close), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

func closer(logger *slog.Logger, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Error("failed to close storage", "adapter", name, "error", err)
		}
	}
}
