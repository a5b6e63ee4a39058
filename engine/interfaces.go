package engine

import (
	"context"
	"time"

	"fitprogress/core"
)

// Storage abstracts persistence of progression snapshots.
//
// LoadProgress returns core.NewSnapshot for unknown users without writing
// anything. SaveProgress creates the record when snap.Version is 0 and
// otherwise replaces it only if the stored version still equals
// snap.Version; the stored version then becomes snap.Version+1. A stale
// save fails with core.ErrVersionConflict.
type Storage interface {
	LoadProgress(ctx context.Context, user core.UserID) (core.ProgressionSnapshot, error)
	SaveProgress(ctx context.Context, snap core.ProgressionSnapshot) error
}

// Clock supplies the current time to the service.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// UserLister is implemented by stores that can enumerate known athletes.
type UserLister interface {
	Users(ctx context.Context) ([]core.UserID, error)
}
