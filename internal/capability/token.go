// Package capability implements path-scoped access grants. A Token is a
// persistable grant for one filesystem location; it must be entered before the
// location is used and the returned Scope must always be closed.
package capability

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

var (
	ErrInvalidToken     = errors.New("invalid capability token")
	ErrAccessDenied     = errors.New("capability access denied")
	ErrPathOutsideScope = errors.New("path outside capability scope")
)

// Token is an opaque grant. Dev and Ino record the identity of the target at
// grant time and are used to detect that the target was moved or replaced.
type Token struct {
	ID        string    `json:"id" toml:"id"`
	Path      string    `json:"path" toml:"path"`
	Dev       uint64    `json:"dev" toml:"dev"`
	Ino       uint64    `json:"ino" toml:"ino"`
	ExpiresAt time.Time `json:"expires_at,omitempty" toml:"expires_at,omitempty"`
}

func (t Token) IsZero() bool { return t.ID == "" }

// GrantStore persists grants. A token unknown to the store is invalid.
type GrantStore interface {
	GetGrant(id string) (Token, bool, error)
	PutGrant(t Token) error
	DeleteGrant(id string) error
}

// Manager validates grants and tracks entered scopes per token.
type Manager struct {
	grants GrantStore
	now    func() time.Time

	mu     sync.Mutex
	active map[string]int
}

func NewManager(grants GrantStore) *Manager {
	if grants == nil {
		grants = NewMemoryGrants()
	}
	return &Manager{grants: grants, now: time.Now, active: make(map[string]int)}
}

// Create grants access to path. A ttl of zero means the grant never expires.
func (m *Manager) Create(path string, ttl time.Duration) (Token, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Token{}, fmt.Errorf("create grant for %s: %w", path, err)
	}
	dev, ino, err := identity(abs)
	if err != nil {
		return Token{}, fmt.Errorf("create grant for %s: %w", abs, err)
	}
	t := Token{ID: uuid.NewString(), Path: abs, Dev: dev, Ino: ino}
	if ttl > 0 {
		t.ExpiresAt = m.now().Add(ttl)
	}
	if err := m.grants.PutGrant(t); err != nil {
		return Token{}, fmt.Errorf("persist grant: %w", err)
	}
	log.Info().Str("grant", t.ID).Str("path", abs).Msg("capability granted")
	return t, nil
}

// Revoke removes a grant. Scopes already entered stay valid until closed.
func (m *Manager) Revoke(id string) error {
	return m.grants.DeleteGrant(id)
}

// Resolve returns the granted path and whether the token is stale. Staleness
// never fails resolution: a replaced target is re-identified and persisted, a
// missing target falls back to the recorded path.
func (m *Manager) Resolve(t Token) (string, bool, error) {
	g, err := m.lookup(t)
	if err != nil {
		return "", false, err
	}
	path, stale := m.refresh(g)
	return path, stale, nil
}

// Enter opens an access scope for the token. The caller must Close the scope.
func (m *Manager) Enter(t Token) (*Scope, error) {
	g, err := m.lookup(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}
	if !g.ExpiresAt.IsZero() && !m.now().Before(g.ExpiresAt) {
		return nil, fmt.Errorf("%w: grant %s expired at %s", ErrAccessDenied, g.ID, g.ExpiresAt.Format(time.RFC3339))
	}
	path, stale := m.refresh(g)
	if err := unix.Access(path, unix.R_OK); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAccessDenied, path, err)
	}

	m.mu.Lock()
	m.active[g.ID]++
	m.mu.Unlock()

	return &Scope{Path: path, Stale: stale, id: g.ID, m: m}, nil
}

// Active reports how many scopes are currently open for a grant.
func (m *Manager) Active(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

func (m *Manager) exit(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[id] <= 1 {
		delete(m.active, id)
		return
	}
	m.active[id]--
}

func (m *Manager) lookup(t Token) (Token, error) {
	if t.ID == "" || t.Path == "" {
		return Token{}, ErrInvalidToken
	}
	g, ok, err := m.grants.GetGrant(t.ID)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !ok {
		return Token{}, fmt.Errorf("%w: unknown grant %s", ErrInvalidToken, t.ID)
	}
	return g, nil
}

func (m *Manager) refresh(g Token) (string, bool) {
	dev, ino, err := identity(g.Path)
	if err == nil && dev == g.Dev && ino == g.Ino {
		return g.Path, false
	}
	if err != nil {
		log.Warn().Str("grant", g.ID).Str("path", g.Path).Err(err).Msg("stale grant, target missing")
		return g.Path, true
	}
	g.Dev, g.Ino = dev, ino
	if perr := m.grants.PutGrant(g); perr != nil {
		log.Warn().Str("grant", g.ID).Err(perr).Msg("stale grant refresh not persisted")
	} else {
		log.Info().Str("grant", g.ID).Str("path", g.Path).Msg("stale grant refreshed")
	}
	return g.Path, true
}

// Scope is an entered grant. Close is idempotent.
type Scope struct {
	Path  string
	Stale bool

	id   string
	m    *Manager
	once sync.Once
}

func (s *Scope) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.m.exit(s.id) })
}

// WithAccess runs fn inside an entered scope for t. fn is not called when the
// scope cannot be entered; the scope is closed on every return path.
func WithAccess[T any](m *Manager, t Token, fn func(path string) (T, error)) (T, error) {
	scope, err := m.Enter(t)
	if err != nil {
		var zero T
		return zero, err
	}
	defer scope.Close()
	return fn(scope.Path)
}

// ResolveWithin resolves rel against base. Absolute paths are returned as-is;
// relative paths that escape base after cleaning are rejected.
func ResolveWithin(base, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathOutsideScope)
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel), nil
	}
	base = filepath.Clean(base)
	joined := filepath.Join(base, rel)
	r, err := filepath.Rel(base, joined)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrPathOutsideScope, rel, base)
	}
	return joined, nil
}

func identity(path string) (uint64, uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}
	return uint64(st.Dev), uint64(st.Ino), nil
}
