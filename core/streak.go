package core

import "time"

// StreakUpdate is the recomputed streak state for one workout.
type StreakUpdate struct {
	StreakDays    int64
	LongestStreak int64
	// DaysSince is the calendar-day distance from the previous workout;
	// -1 when there was none.
	DaysSince int64
}

// DaysBetween returns the number of calendar days from a to b, evaluated in
// b's location. It is negative when a falls on a later day than b.
func DaysBetween(a, b time.Time) int64 {
	return civilDay(b, b.Location()) - civilDay(a, b.Location())
}

// civilDay maps t to a day number that ignores wall-clock time and DST.
func civilDay(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / int64(24*time.Hour/time.Second)
}

// UpdateStreak derives the streak after a workout at now.
//
// Consecutive calendar days extend the streak, a gap of more than one day
// resets it to 1, and a second workout on the same day leaves it untouched.
// A previous workout dated after now is treated as same-day.
func UpdateStreak(last *time.Time, prevStreak, prevLongest int64, now time.Time) StreakUpdate {
	u := StreakUpdate{StreakDays: 1, LongestStreak: prevLongest, DaysSince: -1}
	if last != nil {
		u.DaysSince = DaysBetween(*last, now)
		switch {
		case u.DaysSince == 1:
			u.StreakDays = prevStreak + 1
		case u.DaysSince > 1:
			u.StreakDays = 1
		default:
			u.StreakDays = prevStreak
			if u.StreakDays < 1 {
				u.StreakDays = 1
			}
		}
	}
	if u.StreakDays > u.LongestStreak {
		u.LongestStreak = u.StreakDays
	}
	return u
}
