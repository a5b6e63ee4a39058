package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fitprogress/core"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `toml:"addr" env:"FITPROGRESS_REDIS_ADDR"`
	Password     string        `toml:"password" env:"FITPROGRESS_REDIS_PASSWORD"`
	DB           int           `toml:"db" env:"FITPROGRESS_REDIS_DB"`
	PoolSize     int           `toml:"pool_size" env:"FITPROGRESS_REDIS_POOL_SIZE"`
	MinIdleConns int           `toml:"min_idle_conns" env:"FITPROGRESS_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `toml:"dial_timeout" env:"FITPROGRESS_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `toml:"read_timeout" env:"FITPROGRESS_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `toml:"write_timeout" env:"FITPROGRESS_REDIS_WRITE_TIMEOUT"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements engine.Storage on Redis.
// Data structure:
// - user:{user_id}:progress -> hash {data: snapshot JSON, version: int64}
// - user:{user_id}:achievements -> set of achievement ids
// - user:{user_id}:badges -> set of badge ids
// - leaderboard:points -> sorted set of user ids scored by lifetime points
type Store struct {
	client *redis.Client
}

// New connects to Redis and pings it. ctx bounds the ping; without a
// deadline the ping gives up after DialTimeout.
func New(ctx context.Context, config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	if _, ok := ctx.Deadline(); !ok && config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", config.Addr, err)
	}

	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

const pointsLeaderboardKey = "leaderboard:points"

func userProgressKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:progress", userID)
}

func userAchievementsKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:achievements", userID)
}

func userBadgesKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:badges", userID)
}

// saveScript performs the version compare-and-swap and keeps the secondary
// indexes in step. It returns the new version, or 0 when the stored version
// differs from ARGV[1].
//
// ARGV: expected version, snapshot JSON, user id, points, badge count,
// badges..., achievements...
var saveScript = redis.NewScript(`
	local current = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
	if current ~= tonumber(ARGV[1]) then
		return 0
	end
	local nextv = current + 1
	redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', nextv)
	redis.call('ZADD', KEYS[4], ARGV[4], ARGV[3])
	local nb = tonumber(ARGV[5])
	for i = 6, 5 + nb do
		redis.call('SADD', KEYS[3], ARGV[i])
	end
	for i = 6 + nb, #ARGV do
		redis.call('SADD', KEYS[2], ARGV[i])
	end
	return nextv
`)

// LoadProgress returns the stored snapshot, or a fresh one for unknown users.
func (s *Store) LoadProgress(ctx context.Context, userID core.UserID) (core.ProgressionSnapshot, error) {
	fields, err := s.client.HMGet(ctx, userProgressKey(userID), "data", "version").Result()
	if err != nil {
		return core.ProgressionSnapshot{}, fmt.Errorf("failed to load progress: %w", err)
	}
	data, _ := fields[0].(string)
	if data == "" {
		return core.NewSnapshot(userID), nil
	}

	var snap core.ProgressionSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return core.ProgressionSnapshot{}, fmt.Errorf("failed to decode progress: %w", err)
	}
	if v, ok := fields[1].(string); ok {
		if _, err := fmt.Sscan(v, &snap.Version); err != nil {
			return core.ProgressionSnapshot{}, fmt.Errorf("failed to decode version %q: %w", v, err)
		}
	}
	if snap.Achievements == nil {
		snap.Achievements = map[core.AchievementID]struct{}{}
	}
	if snap.Badges == nil {
		snap.Badges = map[core.BadgeID]struct{}{}
	}
	snap.UserID = userID
	return snap, nil
}

// SaveProgress atomically replaces the snapshot if its version is current.
func (s *Store) SaveProgress(ctx context.Context, snap core.ProgressionSnapshot) error {
	stored := snap.Clone()
	stored.Version = snap.Version + 1
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	badges := snap.BadgeList()
	achievements := snap.AchievementList()
	args := make([]any, 0, 5+len(badges)+len(achievements))
	args = append(args, snap.Version, data, string(snap.UserID), snap.Points, len(badges))
	for _, b := range badges {
		args = append(args, string(b))
	}
	for _, a := range achievements {
		args = append(args, string(a))
	}

	keys := []string{
		userProgressKey(snap.UserID),
		userAchievementsKey(snap.UserID),
		userBadgesKey(snap.UserID),
		pointsLeaderboardKey,
	}
	result, err := saveScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("user %s at version %d: %w", snap.UserID, snap.Version, core.ErrVersionConflict)
	}
	return nil
}

// Badges returns the badge index for userID.
func (s *Store) Badges(ctx context.Context, userID core.UserID) ([]core.BadgeID, error) {
	members, err := s.client.SMembers(ctx, userBadgesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	out := make([]core.BadgeID, len(members))
	for i, m := range members {
		out[i] = core.BadgeID(m)
	}
	return out, nil
}

// RankedUser is one row of the points index.
type RankedUser struct {
	User   core.UserID
	Points int64
}

// TopByPoints reads the n highest scorers from the points index.
func (s *Store) TopByPoints(ctx context.Context, n int) ([]RankedUser, error) {
	if n <= 0 {
		return nil, errors.New("n must be positive")
	}
	return s.rangeByPoints(ctx, 0, int64(n-1))
}

// Users lists every athlete in the points index. Every save writes the
// index, so it covers all stored snapshots without walking the keyspace.
func (s *Store) Users(ctx context.Context) ([]core.UserID, error) {
	ranked, err := s.rangeByPoints(ctx, 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]core.UserID, len(ranked))
	for i, r := range ranked {
		out[i] = r.User
	}
	return out, nil
}

func (s *Store) rangeByPoints(ctx context.Context, start, stop int64) ([]RankedUser, error) {
	zs, err := s.client.ZRevRangeWithScores(ctx, pointsLeaderboardKey, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read points index: %w", err)
	}
	out := make([]RankedUser, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, RankedUser{User: core.UserID(member), Points: int64(z.Score)})
	}
	return out, nil
}
