package capability

import "sync"

// MemoryGrants is a GrantStore kept in memory.
type MemoryGrants struct {
	mu     sync.RWMutex
	grants map[string]Token
}

func NewMemoryGrants() *MemoryGrants {
	return &MemoryGrants{grants: make(map[string]Token)}
}

func (g *MemoryGrants) GetGrant(id string) (Token, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.grants[id]
	return t, ok, nil
}

func (g *MemoryGrants) PutGrant(t Token) error {
	g.mu.Lock()
	g.grants[t.ID] = t
	g.mu.Unlock()
	return nil
}

func (g *MemoryGrants) DeleteGrant(id string) error {
	g.mu.Lock()
	delete(g.grants, id)
	g.mu.Unlock()
	return nil
}
