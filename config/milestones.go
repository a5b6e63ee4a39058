package config

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"fitprogress/core"
)

// LoadMilestones reads a TOML milestone catalog:
//
//	[[workout]]
//	id = "first_workout"
//	threshold = 1
//	points = 50
//	badge = "first_steps"
//
// with [[streak]] and [[level]] tables alongside. Unknown keys are rejected
// so typos do not silently disable a milestone.
func LoadMilestones(path string) (core.Thresholds, error) {
	var t core.Thresholds
	md, err := toml.DecodeFile(path, &t)
	if err != nil {
		return core.Thresholds{}, fmt.Errorf("parse milestones %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return core.Thresholds{}, fmt.Errorf("milestones %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	t = t.Normalize()
	if err := t.Validate(); err != nil {
		return core.Thresholds{}, fmt.Errorf("milestones %s: %w", path, err)
	}
	return t, nil
}

// WriteMilestones encodes t in the format LoadMilestones reads.
func WriteMilestones(w io.Writer, t core.Thresholds) error {
	return toml.NewEncoder(w).Encode(t)
}

// Thresholds returns the configured catalog, or the built-in one when no
// file is set.
func (r RewardsConfig) Thresholds() (core.Thresholds, error) {
	if r.MilestonesFile == "" {
		return core.DefaultThresholds(), nil
	}
	return LoadMilestones(r.MilestonesFile)
}
