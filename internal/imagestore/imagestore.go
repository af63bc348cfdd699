// Package imagestore keeps generated carousel images in memory long enough
// for the chat platform to fetch them.
package imagestore

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// emptyPNG is a 1x1 transparent PNG served for ids that expired or never
// existed. The platform caches carousel images aggressively, so a stable
// placeholder beats a 404.
const emptyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="

// EmptyPNG returns the placeholder image bytes.
func EmptyPNG() []byte {
	data, _ := base64.StdEncoding.DecodeString(emptyPNG)
	return data
}

type entry struct {
	data     []byte
	storedAt time.Time
}

// Store is an in-memory image cache with TTL-based eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

func NewStore(log *slog.Logger, baseURL string, ttl time.Duration) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		entries: make(map[string]entry),
		ttl:     ttl,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log.With(slog.String("service", "imagestore")),
		now:     time.Now,
	}
}

// Put stores data and returns its id.
func (s *Store) Put(data []byte) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.entries[id] = entry{data: data, storedAt: s.now()}
	s.mu.Unlock()
	return id
}

// URL builds the externally reachable link for a stored id.
func (s *Store) URL(id string) string {
	return s.baseURL + "/temp_image/" + id
}

// Get returns the image bytes for id, or false when it expired or was
// never stored.
func (s *Store) Get(id string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || s.now().Sub(e.storedAt) > s.ttl {
		return nil, false
	}
	return e.data, true
}

// Sweep evicts expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if e.storedAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("swept expired images", slog.Int("removed", removed))
	}
	return removed
}
