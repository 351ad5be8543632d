package store

import (
	"sort"
	"sync"
	"time"

	"github.com/carlosprados/keeper/internal/sampler"
)

// ServerInfo is the published view of one definition's session.
type ServerInfo struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	State          string            `json:"state"`
	PID            int               `json:"pid,omitempty"`
	StartedAt      time.Time         `json:"started_at,omitempty"`
	Restarts       int               `json:"restarts"`
	ForceAvailable bool              `json:"force_available,omitempty"`
	Pending        bool              `json:"pending,omitempty"`
	Metrics        *sampler.Snapshot `json:"metrics,omitempty"`
}

// SessionTable is the observable {definition id -> session} map. Only the
// orchestrator writes to it.
type SessionTable struct {
	mu    sync.RWMutex
	items map[string]ServerInfo
}

func NewSessionTable() *SessionTable {
	return &SessionTable{items: make(map[string]ServerInfo)}
}

func (s *SessionTable) Upsert(si ServerInfo) {
	s.mu.Lock()
	s.items[si.ID] = si
	s.mu.Unlock()
}

func (s *SessionTable) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// List returns all sessions ordered by id.
func (s *SessionTable) List() []ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ServerInfo, 0, len(s.items))
	for _, v := range s.items {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *SessionTable) Get(id string) (ServerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	return v, ok
}
