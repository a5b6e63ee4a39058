package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"fitprogress/core"
)

const (
	maxLevel = 16
	pFactor  = 0.25
)

// node keeps, per level, the forward pointer and the number of level-0
// steps that pointer skips. Spans make rank lookups logarithmic.
type node struct {
	e    Entry
	next [maxLevel]*node
	span [maxLevel]int
}

// SkipList orders athletes by points desc, then level desc, then user id
// asc. Updates, rank lookups and offset seeks are O(log n).
type SkipList struct {
	mu     sync.RWMutex
	head   *node
	lvl    int
	length int
	byUser map[core.UserID]*node
	rng    *rand.Rand
}

func NewSkipList() *SkipList {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		// level choice only affects balance, a fixed seed is still correct
		seed = [16]byte{}
	}
	return &SkipList{
		head:   &node{},
		lvl:    1,
		byUser: map[core.UserID]*node{},
		rng:    rand.New(rand.NewPCG(binary.BigEndian.Uint64(seed[:8]), binary.BigEndian.Uint64(seed[8:]))),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

// less reports whether a ranks ahead of b.
func less(a, b Entry) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	return a.User < b.User
}

// Update inserts or moves user to a new standing.
func (s *SkipList) Update(user core.UserID, points, level int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[user]; ok {
		if old.e.Points == points && old.e.Level == level {
			return
		}
		s.deleteLocked(old.e)
	}
	s.insertLocked(Entry{User: user, Points: points, Level: level})
}

func (s *SkipList) insertLocked(e Entry) {
	var (
		update [maxLevel]*node
		rank   [maxLevel]int
	)
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		if i < s.lvl-1 {
			rank[i] = rank[i+1]
		}
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			rank[i] += cur.span[i]
			cur = cur.next[i]
		}
		update[i] = cur
	}

	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			update[i] = s.head
			s.head.span[i] = s.length
		}
		s.lvl = lvl
	}

	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		// rank[0]-rank[i] is how far update[i] sits behind update[0]
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := lvl; i < s.lvl; i++ {
		update[i].span[i]++
	}
	s.length++
	s.byUser[e.User] = n
}

func (s *SkipList) deleteLocked(e Entry) {
	var update [maxLevel]*node
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.User != e.User {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].span[i] += target.span[i] - 1
			update[i].next[i] = target.next[i]
		} else {
			update[i].span[i]--
		}
	}
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
	s.length--
	delete(s.byUser, e.User)
}

func (s *SkipList) Remove(user core.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; ok {
		s.deleteLocked(n.e)
	}
}

// TopN returns the n best entries with ranks filled in.
func (s *SkipList) TopN(n int) []Entry {
	return s.Range(0, n)
}

// Range returns up to limit entries starting after the first offset ones.
func (s *SkipList) Range(offset, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || offset < 0 || offset >= s.length {
		return nil
	}
	out := make([]Entry, 0, min(limit, s.length-offset))
	cur := s.seekLocked(offset + 1)
	for rank := offset + 1; cur != nil && len(out) < limit; rank++ {
		e := cur.e
		e.Rank = rank
		out = append(out, e)
		cur = cur.next[0]
	}
	return out
}

// seekLocked returns the node at 1-based rank.
func (s *SkipList) seekLocked(rank int) *node {
	traversed := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && traversed+cur.span[i] <= rank {
			traversed += cur.span[i]
			cur = cur.next[i]
		}
		if traversed == rank {
			return cur
		}
	}
	return nil
}

// Get returns the entry for user with its 1-based rank filled in.
func (s *SkipList) Get(user core.UserID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byUser[user]
	if !ok {
		return Entry{}, false
	}
	rank := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && !less(n.e, cur.next[i].e) {
			rank += cur.span[i]
			cur = cur.next[i]
		}
		if cur == n {
			break
		}
	}
	e := n.e
	e.Rank = rank
	return e, true
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

var _ Board = (*SkipList)(nil)
