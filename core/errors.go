package core

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionConflict is returned by storage when a snapshot is saved
	// against a version that is no longer current.
	ErrVersionConflict = errors.New("progression snapshot version conflict")

	// ErrOverflow is wrapped by AddSafe.
	ErrOverflow = errors.New("integer overflow")
)

// InvalidEventError rejects a reward event before any state is touched.
type InvalidEventError struct {
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid reward event: %s: %s", e.Field, e.Reason)
}

// InvalidSnapshotError reports a persisted snapshot that breaks an invariant.
// The engine refuses to repair such state.
type InvalidSnapshotError struct {
	Field  string
	Reason string
}

func (e *InvalidSnapshotError) Error() string {
	return fmt.Sprintf("invalid progression snapshot: %s: %s", e.Field, e.Reason)
}
