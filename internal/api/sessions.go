package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sessions tracks the map pages that asked for a session id.
type Sessions struct {
	mu    sync.RWMutex
	seen  map[string]time.Time
	limit int
}

func NewSessions(limit int) *Sessions {
	return &Sessions{seen: make(map[string]time.Time), limit: limit}
}

// Create returns a new session id. When the table is full the oldest
// session is dropped and returned as evicted.
func (s *Sessions) Create(now time.Time) (id string, evicted string) {
	id = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit > 0 && len(s.seen) >= s.limit {
		var oldest time.Time
		for sid, at := range s.seen {
			if evicted == "" || at.Before(oldest) {
				evicted, oldest = sid, at
			}
		}
		delete(s.seen, evicted)
	}
	s.seen[id] = now
	return id, evicted
}

func (s *Sessions) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

func (s *Sessions) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; !ok {
		return false
	}
	delete(s.seen, id)
	return true
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
