package store

import "sync"

// DefaultLogLines caps the lines kept per definition.
const DefaultLogLines = 2000

// LogStore is the append-only {definition id -> lines} map. Each definition
// keeps its most recent lines only.
type LogStore struct {
	max int

	mu    sync.RWMutex
	lines map[string][]string
}

func NewLogStore(max int) *LogStore {
	if max <= 0 {
		max = DefaultLogLines
	}
	return &LogStore{max: max, lines: make(map[string][]string)}
}

func (s *LogStore) Append(id string, lines ...string) {
	if len(lines) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := append(s.lines[id], lines...)
	if over := len(cur) - s.max; over > 0 {
		// copy so the dropped prefix can be collected
		cur = append([]string(nil), cur[over:]...)
	}
	s.lines[id] = cur
}

// Lines returns a copy of the stored lines. When tail > 0 only the last tail
// lines are returned.
func (s *LogStore) Lines(id string, tail int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.lines[id]
	if tail > 0 && tail < len(cur) {
		cur = cur[len(cur)-tail:]
	}
	return append([]string(nil), cur...)
}

func (s *LogStore) Delete(id string) {
	s.mu.Lock()
	delete(s.lines, id)
	s.mu.Unlock()
}
