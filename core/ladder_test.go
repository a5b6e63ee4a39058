package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXPRequiredFor(t *testing.T) {
	assert.Equal(t, int64(100), XPRequiredFor(1))
	assert.Equal(t, int64(229), XPRequiredFor(2))
	assert.Equal(t, int64(373), XPRequiredFor(3))
	assert.Equal(t, XPRequiredFor(1), XPRequiredFor(0), "levels below 1 clamp to 1")
	assert.Equal(t, XPRequiredFor(1), XPRequiredFor(-7))
}

func TestXPRequiredForStrictlyIncreasing(t *testing.T) {
	prev := XPRequiredFor(1)
	for lvl := int64(2); lvl <= 500; lvl++ {
		cur := XPRequiredFor(lvl)
		require.Greater(t, cur, prev, "level %d", lvl)
		prev = cur
	}
}

func TestCascadeSingleLevel(t *testing.T) {
	// level 1 with 410 xp: one promotion, 410-229 = 181 < 373
	res := Cascade(1, 410, 130, nil)
	assert.Equal(t, int64(2), res.Level)
	assert.Equal(t, int64(181), res.CurrentXP)
	assert.Equal(t, int64(130+LevelUpBonus), res.PointsGained)
	assert.Equal(t, int64(1), res.LevelsGained)
}

func TestCascadeNoLevelUp(t *testing.T) {
	res := Cascade(3, 100, 10, func(int64) int64 { t.Fatal("unexpected callback"); return 0 })
	assert.Equal(t, int64(3), res.Level)
	assert.Equal(t, int64(100), res.CurrentXP)
	assert.Equal(t, int64(0), res.LevelsGained)
}

func TestCascadeMilestoneBonusFeedsFurtherLevels(t *testing.T) {
	// 229 reaches level 2 with 0 left; the level-2 bonus of 373 then covers level 3.
	var seen []int64
	res := Cascade(1, 229, 0, func(level int64) int64 {
		seen = append(seen, level)
		if level == 2 {
			return XPRequiredFor(3)
		}
		return 0
	})
	assert.Equal(t, []int64{2, 3}, seen)
	assert.Equal(t, int64(3), res.Level)
	assert.Equal(t, int64(0), res.CurrentXP)
	assert.Equal(t, int64(2*LevelUpBonus+XPRequiredFor(3)), res.PointsGained)
	assert.Less(t, res.CurrentXP, XPRequiredFor(res.Level+1))
}

func TestLevelProgress(t *testing.T) {
	assert.InDelta(t, 0.0, LevelProgress(1, 0), 1e-9)
	assert.InDelta(t, 50.0, LevelProgress(2, XPRequiredFor(3)/2), 0.5)
	assert.InDelta(t, 100.0, LevelProgress(1, 10_000), 1e-9)
}
