package memory

import (
	"context"
	"fmt"
	"sync"

	"fitprogress/core"
)

// Store is a concurrent in-memory Storage implementation.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord
}

type userRecord struct {
	mu    sync.Mutex
	state core.ProgressionSnapshot
	saved bool
}

func New() *Store { return &Store{} }

func (s *Store) record(user core.UserID) *userRecord {
	if v, ok := s.users.Load(user); ok {
		return v.(*userRecord)
	}
	actual, _ := s.users.LoadOrStore(user, &userRecord{state: core.NewSnapshot(user)})
	return actual.(*userRecord)
}

func (s *Store) LoadProgress(_ context.Context, user core.UserID) (core.ProgressionSnapshot, error) {
	v, ok := s.users.Load(user)
	if !ok {
		return core.NewSnapshot(user), nil
	}
	rec := v.(*userRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state.Clone(), nil
}

func (s *Store) SaveProgress(_ context.Context, snap core.ProgressionSnapshot) error {
	rec := s.record(snap.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	current := int64(0)
	if rec.saved {
		current = rec.state.Version
	}
	if current != snap.Version {
		return fmt.Errorf("user %s: stored version %d, got %d: %w", snap.UserID, current, snap.Version, core.ErrVersionConflict)
	}
	next := snap.Clone()
	next.Version = snap.Version + 1
	rec.state = next
	rec.saved = true
	return nil
}

// Users lists every user with a saved snapshot.
func (s *Store) Users(_ context.Context) ([]core.UserID, error) {
	var out []core.UserID
	s.users.Range(func(k, v any) bool {
		rec := v.(*userRecord)
		rec.mu.Lock()
		saved := rec.saved
		rec.mu.Unlock()
		if saved {
			out = append(out, k.(core.UserID))
		}
		return true
	})
	return out, nil
}
