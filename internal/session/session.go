// Package session tracks the per-user conversation mode that decides how
// ambiguous text and image input is interpreted.
package session

import (
	"sync"
	"time"
)

// Mode is the active function context for one user.
type Mode string

const (
	ModeNone   Mode = ""
	ModeRecipe Mode = "recipe"
	ModeRecord Mode = "record"
	ModeView   Mode = "view"
	ModeDelete Mode = "delete"
)

// waitNoticeInterval is the minimum gap between "please wait" notices for
// one user while an image burst is still arriving.
const waitNoticeInterval = 10 * time.Second

type userSession struct {
	mode             Mode
	lastWaitNoticeAt time.Time
	lastSeenAt       time.Time
}

// Store owns all per-user session state. All methods are safe for
// concurrent use; state is in-memory and local to one instance.
type Store struct {
	mu    sync.Mutex
	users map[string]*userSession
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		users: make(map[string]*userSession),
		now:   time.Now,
	}
}

func (s *Store) get(userID string) *userSession {
	sess, ok := s.users[userID]
	if !ok {
		sess = &userSession{}
		s.users[userID] = sess
	}
	sess.lastSeenAt = s.now()
	return sess
}

// Mode returns the user's current mode; ModeNone if they have none.
func (s *Store) Mode(userID string) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.users[userID]; ok {
		return sess.mode
	}
	return ModeNone
}

// SetMode switches the user into a mode, creating the session on first
// interaction.
func (s *Store) SetMode(userID string, mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(userID).mode = mode
}

// Clear resets the user's mode to ModeNone and returns the mode that was
// active.
func (s *Store) Clear(userID string) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.users[userID]
	if !ok {
		return ModeNone
	}
	prev := sess.mode
	sess.mode = ModeNone
	sess.lastSeenAt = s.now()
	return prev
}

// ShouldSendWaitNotice reports whether a "please wait" notice may be sent
// now and, when it may, stamps the send time. At most one notice goes out
// per user per ten seconds.
func (s *Store) ShouldSendWaitNotice(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(userID)
	now := s.now()
	if now.Sub(sess.lastWaitNoticeAt) <= waitNoticeInterval {
		return false
	}
	sess.lastWaitNoticeAt = now
	return true
}

// SweepIdle drops sessions not touched for at least ttl and returns how
// many were removed. Wired to the periodic janitor.
func (s *Store) SweepIdle(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	removed := 0
	for userID, sess := range s.users {
		if sess.lastSeenAt.Before(cutoff) {
			delete(s.users, userID)
			removed++
		}
	}
	return removed
}
