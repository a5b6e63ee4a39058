package jsonfile

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"fitprogress/core"
)

const currentFormat = 1

// document is the on-disk layout. Athletes are sorted by user id so
// successive saves diff cleanly.
type document struct {
	Format   int                        `json:"format"`
	Athletes []core.ProgressionSnapshot `json:"athletes"`
}

// Store keeps every snapshot in memory and rewrites one JSON file on each
// save. Suitable for demos and single-process deployments.
type Store struct {
	path string
	mu   sync.RWMutex
	data map[core.UserID]core.ProgressionSnapshot
}

// New opens the store at path. A missing file is an empty store; the file
// and its directory are created on the first save.
func New(path string) (*Store, error) {
	s := &Store{path: path, data: map[core.UserID]core.ProgressionSnapshot{}}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, err
	}
	if err := s.decode(b); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) decode(b []byte) error {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	if doc.Format != currentFormat {
		return fmt.Errorf("unsupported format %d", doc.Format)
	}
	for i, snap := range doc.Athletes {
		if snap.UserID == "" {
			return fmt.Errorf("athletes[%d]: missing user_id", i)
		}
		if _, dup := s.data[snap.UserID]; dup {
			return fmt.Errorf("athletes[%d]: duplicate user %s", i, snap.UserID)
		}
		if snap.Achievements == nil {
			snap.Achievements = map[core.AchievementID]struct{}{}
		}
		if snap.Badges == nil {
			snap.Badges = map[core.BadgeID]struct{}{}
		}
		s.data[snap.UserID] = snap
	}
	return nil
}

// write replaces the file atomically: a synced temp file in the same
// directory is renamed over the old one.
func (s *Store) write() error {
	doc := document{Format: currentFormat, Athletes: make([]core.ProgressionSnapshot, 0, len(s.data))}
	for _, snap := range s.data {
		doc.Athletes = append(doc.Athletes, snap)
	}
	slices.SortFunc(doc.Athletes, func(a, b core.ProgressionSnapshot) int { return cmp.Compare(a.UserID, b.UserID) })
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *Store) LoadProgress(_ context.Context, user core.UserID) (core.ProgressionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap, ok := s.data[user]; ok {
		return snap.Clone(), nil
	}
	return core.NewSnapshot(user), nil
}

// SaveProgress stores snap if its version matches and rewrites the file. A
// failed write leaves the previous state in place.
func (s *Store) SaveProgress(_ context.Context, snap core.ProgressionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.data[snap.UserID]
	if stored := prev.Version; stored != snap.Version {
		return fmt.Errorf("user %s: stored version %d, got %d: %w", snap.UserID, stored, snap.Version, core.ErrVersionConflict)
	}
	next := snap.Clone()
	next.Version++
	s.data[snap.UserID] = next
	if err := s.write(); err != nil {
		if exists {
			s.data[snap.UserID] = prev
		} else {
			delete(s.data, snap.UserID)
		}
		return fmt.Errorf("persist %s: %w", s.path, err)
	}
	return nil
}

// Users lists every athlete with a stored snapshot, sorted.
func (s *Store) Users(_ context.Context) ([]core.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.UserID, 0, len(s.data))
	for u := range s.data {
		out = append(out, u)
	}
	slices.Sort(out)
	return out, nil
}
