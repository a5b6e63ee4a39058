package leaderboard

import "fitprogress/core"

// Entry is one athlete's standing.
type Entry struct {
	User   core.UserID `json:"user_id"`
	Points int64       `json:"points"`
	Level  int64       `json:"level"`
	Rank   int         `json:"rank,omitempty"`
}

// Board abstracts leaderboard operations. Ranks are 1-based.
type Board interface {
	Update(user core.UserID, points, level int64)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Range(offset, limit int) []Entry
	Get(user core.UserID) (Entry, bool)
	Len() int
}
