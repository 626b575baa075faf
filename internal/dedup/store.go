package dedup

import "sync"

// Defaults.
const (
	DefaultCeiling = 1000
	DefaultRetain  = 500
)

// Store is a bounded set of surfaced identities. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string // Insertion order, oldest first
	ceiling int
	retain  int
	trims   int
}

// New creates a store. Non-positive values select the defaults; retain is
// clamped to ceiling.
func New(ceiling, retain int) *Store {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if retain <= 0 {
		retain = DefaultRetain
	}
	if retain > ceiling {
		retain = ceiling
	}
	return &Store{
		seen:    make(map[string]struct{}, ceiling+1),
		order:   make([]string, 0, ceiling+1),
		ceiling: ceiling,
		retain:  retain,
	}
}

// ShouldSurface returns true and records identity on first sight, false on
// every later sighting until identity is trimmed.
func (s *Store) ShouldSurface(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[identity]; ok {
		return false
	}
	s.seen[identity] = struct{}{}
	s.order = append(s.order, identity)
	s.trim()
	return true
}

// Seen reports whether identity is currently recorded.
func (s *Store) Seen(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[identity]
	return ok
}

// Len returns the number of recorded identities.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Trims returns how many times the store has been trimmed.
func (s *Store) Trims() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trims
}

// trim keeps the most recent retain identities once the ceiling is
// exceeded. Must be called with lock held.
func (s *Store) trim() {
	if len(s.order) <= s.ceiling {
		return
	}
	drop := len(s.order) - s.retain
	for _, id := range s.order[:drop] {
		delete(s.seen, id)
	}
	kept := make([]string, s.retain, s.ceiling+1)
	copy(kept, s.order[drop:])
	s.order = kept
	s.trims++
}
