package sqlx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// database drivers selectable through Config.Driver
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"fitprogress/core"
)

// Driver names a supported database/sql driver.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `toml:"driver" env:"FITPROGRESS_SQL_DRIVER"`
	DSN             string        `toml:"dsn" env:"FITPROGRESS_SQL_DSN"`
	MaxOpenConns    int           `toml:"max_open_conns" env:"FITPROGRESS_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `toml:"max_idle_conns" env:"FITPROGRESS_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime" env:"FITPROGRESS_SQL_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `toml:"auto_migrate" env:"FITPROGRESS_SQL_AUTO_MIGRATE"`
}

// DefaultConfig returns pool defaults for driver.
func DefaultConfig(driver Driver) Config {
	cfg := Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
	if driver == DriverSQLite {
		// one writer at a time
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}
	return cfg
}

// Store implements engine.Storage on a relational database.
// Tables:
// - user_progress: one row per user, guarded by the version column
// - user_achievements: (user_id, achievement_id) unlock history
// - user_badges: (user_id, badge_id) awarded badges
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a connection pool and optionally creates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("sql dsn is required")
	}
	db, err := sqlx.ConnectContext(ctx, string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS user_progress (
		user_id VARCHAR(191) NOT NULL PRIMARY KEY,
		points BIGINT NOT NULL DEFAULT 0,
		level BIGINT NOT NULL DEFAULT 1,
		current_xp BIGINT NOT NULL DEFAULT 0,
		streak_days BIGINT NOT NULL DEFAULT 0,
		longest_streak BIGINT NOT NULL DEFAULT 0,
		workouts_completed BIGINT NOT NULL DEFAULT 0,
		total_sets BIGINT NOT NULL DEFAULT 0,
		last_workout_at BIGINT NULL,
		version BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_achievements (
		user_id VARCHAR(191) NOT NULL,
		achievement_id VARCHAR(191) NOT NULL,
		unlocked_at BIGINT NOT NULL,
		PRIMARY KEY (user_id, achievement_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_badges (
		user_id VARCHAR(191) NOT NULL,
		badge_id VARCHAR(191) NOT NULL,
		awarded_at BIGINT NOT NULL,
		PRIMARY KEY (user_id, badge_id)
	)`,
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

type progressRow struct {
	Points            int64         `db:"points"`
	Level             int64         `db:"level"`
	CurrentXP         int64         `db:"current_xp"`
	StreakDays        int64         `db:"streak_days"`
	LongestStreak     int64         `db:"longest_streak"`
	WorkoutsCompleted int64         `db:"workouts_completed"`
	TotalSets         int64         `db:"total_sets"`
	LastWorkoutAt     sql.NullInt64 `db:"last_workout_at"`
	Version           int64         `db:"version"`
	UpdatedAt         int64         `db:"updated_at"`
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// LoadProgress returns the stored snapshot, or a fresh one for unknown users.
func (s *Store) LoadProgress(ctx context.Context, user core.UserID) (core.ProgressionSnapshot, error) {
	var row progressRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT points, level, current_xp, streak_days, longest_streak, workouts_completed, total_sets, last_workout_at, version, updated_at
		FROM user_progress WHERE user_id = ?`), user)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NewSnapshot(user), nil
	}
	if err != nil {
		return core.ProgressionSnapshot{}, fmt.Errorf("failed to load progress: %w", err)
	}

	snap := core.NewSnapshot(user)
	snap.Points = row.Points
	snap.Level = row.Level
	snap.CurrentXP = row.CurrentXP
	snap.StreakDays = row.StreakDays
	snap.LongestStreak = row.LongestStreak
	snap.WorkoutsCompleted = row.WorkoutsCompleted
	snap.TotalSets = row.TotalSets
	snap.Version = row.Version
	snap.UpdatedAt = fromMillis(row.UpdatedAt)
	if row.LastWorkoutAt.Valid {
		last := fromMillis(row.LastWorkoutAt.Int64)
		snap.LastWorkoutDate = &last
	}

	var achievements []string
	if err := s.db.SelectContext(ctx, &achievements, s.db.Rebind(
		`SELECT achievement_id FROM user_achievements WHERE user_id = ?`), user); err != nil {
		return core.ProgressionSnapshot{}, fmt.Errorf("failed to load achievements: %w", err)
	}
	for _, a := range achievements {
		snap.Achievements[core.AchievementID(a)] = struct{}{}
	}

	var badges []string
	if err := s.db.SelectContext(ctx, &badges, s.db.Rebind(
		`SELECT badge_id FROM user_badges WHERE user_id = ?`), user); err != nil {
		return core.ProgressionSnapshot{}, fmt.Errorf("failed to load badges: %w", err)
	}
	for _, b := range badges {
		snap.Badges[core.BadgeID(b)] = struct{}{}
	}
	return snap, nil
}

func (s *Store) insertIgnore() string {
	if s.driver == DriverMySQL {
		return `INSERT IGNORE INTO user_progress`
	}
	return `INSERT INTO user_progress`
}

func (s *Store) onConflictNothing() string {
	if s.driver == DriverMySQL {
		return ""
	}
	return ` ON CONFLICT (user_id) DO NOTHING`
}

// SaveProgress writes snap inside one transaction. Version 0 inserts the
// row; any other version updates it only if unchanged since it was read.
func (s *Store) SaveProgress(ctx context.Context, snap core.ProgressionSnapshot) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var last sql.NullInt64
	if snap.LastWorkoutDate != nil {
		last = sql.NullInt64{Int64: toMillis(*snap.LastWorkoutDate), Valid: true}
	}
	updated := toMillis(snap.UpdatedAt)
	if snap.UpdatedAt.IsZero() {
		updated = toMillis(time.Now())
	}

	var res sql.Result
	if snap.Version == 0 {
		res, err = tx.ExecContext(ctx, tx.Rebind(s.insertIgnore()+
			` (user_id, points, level, current_xp, streak_days, longest_streak, workouts_completed, total_sets, last_workout_at, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+s.onConflictNothing()),
			snap.UserID, snap.Points, snap.Level, snap.CurrentXP, snap.StreakDays, snap.LongestStreak,
			snap.WorkoutsCompleted, snap.TotalSets, last, int64(1), updated)
	} else {
		res, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE user_progress SET points = ?, level = ?, current_xp = ?, streak_days = ?, longest_streak = ?,
			workouts_completed = ?, total_sets = ?, last_workout_at = ?, version = ?, updated_at = ?
			WHERE user_id = ? AND version = ?`),
			snap.Points, snap.Level, snap.CurrentXP, snap.StreakDays, snap.LongestStreak,
			snap.WorkoutsCompleted, snap.TotalSets, last, snap.Version+1, updated,
			snap.UserID, snap.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to write progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		err = fmt.Errorf("user %s at version %d: %w", snap.UserID, snap.Version, core.ErrVersionConflict)
		return err
	}

	if err = s.syncSet(ctx, tx, "user_achievements", "achievement_id", "unlocked_at", snap.UserID, achievementStrings(snap), updated); err != nil {
		return err
	}
	if err = s.syncSet(ctx, tx, "user_badges", "badge_id", "awarded_at", snap.UserID, badgeStrings(snap), updated); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit progress: %w", err)
	}
	return nil
}

// syncSet inserts the members of want that are not yet stored. Rows are
// never deleted since unlocks only grow.
func (s *Store) syncSet(ctx context.Context, tx *sqlx.Tx, table, column, stampColumn string, user core.UserID, want []string, stamp int64) error {
	if len(want) == 0 {
		return nil
	}
	var have []string
	if err := tx.SelectContext(ctx, &have, tx.Rebind(
		fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = ?`, column, table)), user); err != nil {
		return fmt.Errorf("failed to read %s: %w", table, err)
	}
	stored := make(map[string]struct{}, len(have))
	for _, h := range have {
		stored[h] = struct{}{}
	}
	insert := tx.Rebind(fmt.Sprintf(`INSERT INTO %s (user_id, %s, %s) VALUES (?, ?, ?)`, table, column, stampColumn))
	for _, w := range want {
		if _, ok := stored[w]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, insert, user, w, stamp); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

// Users lists every user with a stored snapshot.
func (s *Store) Users(ctx context.Context) ([]core.UserID, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT user_id FROM user_progress ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]core.UserID, len(ids))
	for i, id := range ids {
		out[i] = core.UserID(id)
	}
	return out, nil
}

func achievementStrings(s core.ProgressionSnapshot) []string {
	list := s.AchievementList()
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = string(a)
	}
	return out
}

func badgeStrings(s core.ProgressionSnapshot) []string {
	list := s.BadgeList()
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = string(b)
	}
	return out
}
