//go:build unix

package runtime

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// LockState describes an advisory lock file found in a data directory.
type LockState int

const (
	LockAbsent LockState = iota
	// LockStale means the file exists but nobody holds a lock on it.
	LockStale
	LockHeld
)

func (s LockState) String() string {
	switch s {
	case LockStale:
		return "stale"
	case LockHeld:
		return "held"
	default:
		return "absent"
	}
}

// ProbeLock checks whether another process holds an exclusive flock on path.
// The probe takes a non-blocking exclusive lock and releases it immediately.
func ProbeLock(path string) (LockState, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LockAbsent, nil
		}
		return LockAbsent, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return LockHeld, nil
		}
		return LockAbsent, fmt.Errorf("flock %s: %w", path, err)
	}
	_ = unix.Flock(fd, unix.LOCK_UN)
	return LockStale, nil
}
