// Package logring holds the fixed-size line buffer that seeds newly attached
// log consumers.
package logring

import "sync"

// DefaultCapacity is the number of slots a runner session keeps.
const DefaultCapacity = 4096

// Ring is a fixed-capacity circular buffer of lines. Once full, every Append
// overwrites the oldest line. It is safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	lines []string
	start int // index of the oldest line
	n     int
}

// New returns a ring with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{lines: make([]string, capacity)}
}

// Append stores line, dropping the oldest entry when the ring is full.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	c := len(r.lines)
	if r.n < c {
		r.lines[(r.start+r.n)%c] = line
		r.n++
	} else {
		r.lines[r.start] = line
		r.start = (r.start + 1) % c
	}
	r.mu.Unlock()
}

// Snapshot returns the current contents, oldest first.
func (r *Ring) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.n)
	c := len(r.lines)
	for i := 0; i < r.n; i++ {
		out[i] = r.lines[(r.start+i)%c]
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Ring) Cap() int { return len(r.lines) }
