// Package state persists the last published session table so that a
// restarted daemon can spot servers the previous instance left running.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/carlosprados/keeper/internal/store"
)

const snapshotFile = "sessions.json"

type Snapshot struct {
	DaemonPID int                `json:"daemon_pid"`
	Updated   time.Time          `json:"updated"`
	Servers   []store.ServerInfo `json:"servers"`
}

func Save(dir string, snap Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, snapshotFile)
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load returns the saved snapshot, or an empty one when none exists.
func Load(dir string) (Snapshot, error) {
	var snap Snapshot
	b, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return snap, fmt.Errorf("decode %s: %w", snapshotFile, err)
	}
	return snap, nil
}

// Orphans lists servers recorded with a pid that alive still reports as
// running.
func Orphans(snap Snapshot, alive func(pid int) bool) []store.ServerInfo {
	var out []store.ServerInfo
	for _, s := range snap.Servers {
		if s.PID > 0 && alive(s.PID) {
			out = append(out, s)
		}
	}
	return out
}
