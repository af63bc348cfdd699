package recipe

import (
	"sync"
	"time"
)

type entry struct {
	text     string
	dishes   []string
	storedAt time.Time
}

// Store holds each user's latest recipe analysis so carousel taps can look
// the bodies up later. Entries expire after the configured TTL.
type Store struct {
	mu    sync.RWMutex
	users map[string]entry
	ttl   time.Duration
	now   func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		users: make(map[string]entry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put replaces the user's stored analysis wholesale.
func (s *Store) Put(userID, text string, dishes []string) {
	s.mu.Lock()
	s.users[userID] = entry{text: text, dishes: dishes, storedAt: s.now()}
	s.mu.Unlock()
}

// Dish returns the recipe body for 1-based index n along with the overview
// text. ok is false when the user has no unexpired analysis; a present
// analysis with an empty slot n returns ok true and an empty dish.
func (s *Store) Dish(userID string, n int) (dish, text string, ok bool) {
	s.mu.RLock()
	e, found := s.users[userID]
	s.mu.RUnlock()
	if !found || s.now().Sub(e.storedAt) > s.ttl {
		return "", "", false
	}
	if n < 1 || n > len(e.dishes) {
		return "", e.text, true
	}
	return e.dishes[n-1], e.text, true
}

// Sweep evicts expired analyses and returns how many were removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.users {
		if e.storedAt.Before(cutoff) {
			delete(s.users, id)
			removed++
		}
	}
	return removed
}
