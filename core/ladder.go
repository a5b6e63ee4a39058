package core

import "math"

const (
	// BaseXP scales the level curve.
	BaseXP = 100
	// LevelExponent is the curve exponent: required = floor(BaseXP * level^LevelExponent).
	LevelExponent = 1.2
	// LevelUpBonus is credited to gained points for every level reached.
	LevelUpBonus = 200
)

// XPRequiredFor returns the XP needed to advance into level. Levels below 1
// are clamped to 1.
func XPRequiredFor(level int64) int64 {
	if level < 1 {
		level = 1
	}
	return int64(math.Floor(BaseXP * math.Pow(float64(level), LevelExponent)))
}

// CascadeResult is the outcome of resolving pending level-ups.
type CascadeResult struct {
	Level        int64
	CurrentXP    int64
	PointsGained int64
	LevelsGained int64
}

// Cascade promotes level while currentXP covers the next requirement. After
// each promotion onLevel is asked for milestone points earned at the new
// level; they are added to both XP and gained points before the loop
// condition is checked again, so bonuses can trigger further level-ups.
// onLevel may be nil.
func Cascade(level, currentXP, pointsGained int64, onLevel func(level int64) int64) CascadeResult {
	if level < 1 {
		level = 1
	}
	res := CascadeResult{Level: level, CurrentXP: currentXP, PointsGained: pointsGained}
	for res.CurrentXP >= XPRequiredFor(res.Level+1) {
		res.Level++
		res.LevelsGained++
		res.CurrentXP -= XPRequiredFor(res.Level)
		res.PointsGained += LevelUpBonus
		if onLevel != nil {
			bonus := onLevel(res.Level)
			res.CurrentXP += bonus
			res.PointsGained += bonus
		}
	}
	return res
}

// LevelProgress returns the percentage (0-100) of the way from level to
// level+1 that currentXP represents.
func LevelProgress(level, currentXP int64) float64 {
	next := XPRequiredFor(level + 1)
	if next <= 0 {
		return 100
	}
	pct := float64(currentXP) / float64(next) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
