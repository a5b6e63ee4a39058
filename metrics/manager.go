package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fitprogress/core"
)

// Manager owns the service's Prometheus instruments. It doubles as an
// analytics hook so progression events feed the counters directly.
type Manager struct {
	registry *prometheus.Registry

	// counters
	CounterRequests     *prometheus.CounterVec
	CounterWorkouts     prometheus.Counter
	CounterSets         prometheus.Counter
	CounterPoints       prometheus.Counter
	CounterLevelUps     prometheus.Counter
	CounterAchievements *prometheus.CounterVec
	CounterBadges       *prometheus.CounterVec
	CounterSaveConflict prometheus.Counter

	// gauges
	GaugeRequests      prometheus.Gauge
	GaugeLongestStreak prometheus.Gauge

	// histograms
	HistRequestDuration  *prometheus.HistogramVec
	HistPointsPerWorkout prometheus.Histogram

	namespace string
	subsystem string
	factory   promauto.Factory
	longest   atomic.Int64
}

// NewTestManager returns a Manager on a private registry.
func NewTestManager() *Manager {
	return NewManager("fitprogress", "test", prometheus.NewRegistry(), false)
}

// NewManager registers all instruments on reg. collectSystem adds the Go
// runtime and process collectors.
func NewManager(namespace, subsystem string, reg *prometheus.Registry, collectSystem bool) *Manager {
	factory := promauto.With(reg)
	if collectSystem {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &Manager{
		registry:  reg,
		namespace: namespace,
		subsystem: subsystem,
		factory:   factory,
		CounterRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "The total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		CounterWorkouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workouts_completed_total",
			Help:      "The total number of completed workouts",
		}),
		CounterSets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sets_completed_total",
			Help:      "The total number of completed sets",
		}),
		CounterPoints: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "points_awarded_total",
			Help:      "The total number of points awarded",
		}),
		CounterLevelUps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "level_ups_total",
			Help:      "The total number of level-up events",
		}),
		CounterAchievements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "achievements_unlocked_total",
			Help:      "Unlocked achievements by id",
		}, []string{"achievement"}),
		CounterBadges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "badges_awarded_total",
			Help:      "Awarded badges by id",
		}, []string{"badge"}),
		CounterSaveConflict: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "save_conflicts_total",
			Help:      "Workout completions that failed with a version conflict",
		}),
		GaugeRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_requests",
			Help:      "Current number of requests served",
		}),
		GaugeLongestStreak: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "longest_streak_days",
			Help:      "Longest streak reported since the process started",
		}),
		HistRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		HistPointsPerWorkout: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "points_per_workout",
			Help:      "Points gained by a single workout",
			Buckets:   []float64{100, 150, 200, 300, 500, 750, 1000, 2000, 5000, 10000},
		}),
	}
}

// OnEvent updates the progression counters.
func (m *Manager) OnEvent(e core.Event) {
	switch e.Type {
	case core.EventWorkoutCompleted:
		m.CounterWorkouts.Inc()
		m.CounterSets.Add(float64(e.Delta))
	case core.EventPointsAdded:
		if e.Delta > 0 {
			m.CounterPoints.Add(float64(e.Delta))
			m.HistPointsPerWorkout.Observe(float64(e.Delta))
		}
	case core.EventLevelUp:
		m.CounterLevelUps.Inc()
	case core.EventAchievementUnlocked:
		m.CounterAchievements.WithLabelValues(string(e.Achievement)).Inc()
	case core.EventBadgeAwarded:
		m.CounterBadges.WithLabelValues(string(e.Badge)).Inc()
	case core.EventStreakUpdated:
		for {
			prev := m.longest.Load()
			if e.Streak <= prev {
				break
			}
			if m.longest.CompareAndSwap(prev, e.Streak) {
				m.GaugeLongestStreak.Set(float64(e.Streak))
				break
			}
		}
	}
}

// Handle adapts OnEvent to the engine bus handler signature.
func (m *Manager) Handle(_ context.Context, e core.Event) { m.OnEvent(e) }

// TrackGauge exposes a value sampled at scrape time, such as the number of
// live websocket subscribers.
func (m *Manager) TrackGauge(name, help string, fn func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

// ObserveRequest records one finished HTTP request.
func (m *Manager) ObserveRequest(method, route string, status int, took time.Duration) {
	m.CounterRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HistRequestDuration.WithLabelValues(route).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }
