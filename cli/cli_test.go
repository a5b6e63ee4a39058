package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitprogress/config"
	"fitprogress/core"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLadder(t *testing.T) {
	out, err := run(t, "ladder", "--to", "4")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"1", "0", "0"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"2", "229", "229"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"4", "527", "1129"}, strings.Fields(lines[4]))

	out, err = run(t, "ladder", "--from", "3", "--to", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "373")
	assert.Contains(t, out, "602")

	_, err = run(t, "ladder", "--from", "5", "--to", "2")
	assert.Error(t, err)
}

func TestMilestonesListAndExport(t *testing.T) {
	out, err := run(t, "milestones")
	require.NoError(t, err)
	assert.Contains(t, out, "first_workout")
	assert.Contains(t, out, "week_warrior")

	out, err = run(t, "milestones", "--export")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o600))
	loaded, err := config.LoadMilestones(path)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultThresholds(), loaded)

	_, err = run(t, "milestones", "--milestones", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSimulate(t *testing.T) {
	out, err := run(t, "simulate", "--days", "3", "--sets", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-01-01")
	assert.Contains(t, out, "first_workout")
	assert.Contains(t, out, "3 workouts")
}

func TestSimulateJSON(t *testing.T) {
	out, err := run(t, "simulate", "--days", "4", "--every", "2", "--sets", "0", "--json")
	require.NoError(t, err)

	dec := json.NewDecoder(strings.NewReader(out))
	var rows []simulatedWorkout
	for dec.More() {
		var row simulatedWorkout
		require.NoError(t, dec.Decode(&row))
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-01", rows[0].Day)
	assert.Equal(t, int64(150), rows[0].Result.PointsGained)
	// a skipped day breaks the streak; the bonus still counts the streak held before.
	// 100 base + 50 bonus lifts XP to 300, past the 229 needed for level 2.
	assert.Equal(t, int64(1), rows[1].Result.StreakDays)
	assert.Equal(t, int64(1), rows[1].Result.LevelsGained)
	assert.Equal(t, int64(150+core.LevelUpBonus), rows[1].Result.PointsGained)
	assert.Equal(t, int64(300-229), rows[1].Result.CurrentXP)
}

func TestSimulateRejectsBadFlags(t *testing.T) {
	_, err := run(t, "simulate", "--days", "0")
	assert.Error(t, err)
	_, err = run(t, "simulate", "--start", "yesterday")
	assert.Error(t, err)
}
