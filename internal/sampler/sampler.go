// Package sampler turns cumulative per-process counters into instantaneous
// CPU and memory snapshots.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrInvalidPID   = errors.New("invalid pid")
	ErrSampleFailed = errors.New("sample failed")
)

// minWallDelta floors the wall-clock delta so back-to-back samples cannot
// blow up the percentage.
const minWallDelta = 10 * time.Millisecond

// Raw holds the cumulative counters read for one process.
type Raw struct {
	CPUSeconds float64 // user + system
	RSSBytes   uint64
	Threads    int32
	OpenFDs    int32
	HasFDs     bool
	NetSent    uint64
	NetRecv    uint64
	HasNet     bool
}

// Reader reads raw counters for a pid. It returns ErrInvalidPID when the
// process does not exist.
type Reader interface {
	Read(ctx context.Context, pid int) (Raw, error)
}

// Snapshot is the derived view of one sample.
type Snapshot struct {
	CPUPercent   float64   `json:"cpu_percent"`
	RSSBytes     uint64    `json:"rss_bytes"`
	Threads      int32     `json:"threads"`
	OpenFDs      *int32    `json:"open_fds,omitempty"`
	NetSentBytes *uint64   `json:"net_sent_bytes,omitempty"`
	NetRecvBytes *uint64   `json:"net_recv_bytes,omitempty"`
	SampledAt    time.Time `json:"sampled_at"`
}

type baseline struct {
	cpu float64
	at  time.Time
}

// Sampler keeps the previous sample per pid as the baseline for the next one.
type Sampler struct {
	reader Reader
	cores  int
	now    func() time.Time

	mu   sync.Mutex
	last map[int]baseline
}

// New returns a sampler normalizing CPU over cores (at least 1).
func New(reader Reader, cores int) *Sampler {
	if cores < 1 {
		cores = 1
	}
	return &Sampler{reader: reader, cores: cores, now: time.Now, last: make(map[int]baseline)}
}

// Sample reads pid and derives a snapshot. The first sample for a pid reports
// zero CPU.
func (s *Sampler) Sample(ctx context.Context, pid int) (Snapshot, error) {
	if pid <= 0 {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	raw, err := s.reader.Read(ctx, pid)
	if err != nil {
		if errors.Is(err, ErrInvalidPID) {
			s.Forget(pid)
			return Snapshot{}, err
		}
		if errors.Is(err, ErrSampleFailed) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("%w: pid %d: %w", ErrSampleFailed, pid, err)
	}
	at := s.now()

	s.mu.Lock()
	prev, ok := s.last[pid]
	s.last[pid] = baseline{cpu: raw.CPUSeconds, at: at}
	s.mu.Unlock()

	snap := Snapshot{RSSBytes: raw.RSSBytes, Threads: raw.Threads, SampledAt: at}
	if ok {
		snap.CPUPercent = cpuPercent(raw.CPUSeconds-prev.cpu, at.Sub(prev.at), s.cores)
	}
	if raw.HasFDs {
		fds := raw.OpenFDs
		snap.OpenFDs = &fds
	}
	if raw.HasNet {
		sent, recv := raw.NetSent, raw.NetRecv
		snap.NetSentBytes, snap.NetRecvBytes = &sent, &recv
	}
	return snap, nil
}

// Forget drops the baseline for pid.
func (s *Sampler) Forget(pid int) {
	s.mu.Lock()
	delete(s.last, pid)
	s.mu.Unlock()
}

// Tracked returns the number of pids with a baseline.
func (s *Sampler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.last)
}

func cpuPercent(cpuDelta float64, wall time.Duration, cores int) float64 {
	if wall < minWallDelta {
		wall = minWallDelta
	}
	pct := cpuDelta / wall.Seconds() / float64(cores) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}
