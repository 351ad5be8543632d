// Package definition describes manageable Java servers as persisted in
// servers.toml.
package definition

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/carlosprados/keeper/internal/capability"
)

var ErrInvalidEntry = errors.New("invalid entry")

type EntryKind string

const (
	EntryJar    EntryKind = "jar"
	EntryClass  EntryKind = "class"
	EntryScript EntryKind = "script"
)

// Entry selects how the server is launched. Only the field matching Kind is
// used.
type Entry struct {
	Kind       EntryKind `toml:"kind" json:"kind"`
	JarPath    string    `toml:"jar_path,omitempty" json:"jar_path,omitempty"`
	MainClass  string    `toml:"main_class,omitempty" json:"main_class,omitempty"`
	ScriptPath string    `toml:"script_path,omitempty" json:"script_path,omitempty"`
}

// Target returns the field that Kind selects.
func (e Entry) Target() string {
	switch e.Kind {
	case EntryJar:
		return e.JarPath
	case EntryClass:
		return e.MainClass
	case EntryScript:
		return e.ScriptPath
	}
	return ""
}

func (e Entry) Validate() error {
	switch e.Kind {
	case EntryJar, EntryClass, EntryScript:
	case "":
		return fmt.Errorf("%w: missing entry kind", ErrInvalidEntry)
	default:
		return fmt.Errorf("%w: unknown entry kind %q", ErrInvalidEntry, e.Kind)
	}
	if strings.TrimSpace(e.Target()) == "" {
		return fmt.Errorf("%w: %s entry has no target", ErrInvalidEntry, e.Kind)
	}
	return nil
}

// Policy controls restarts and the graceful stop signal.
type Policy struct {
	RestartOnCrash bool   `toml:"restart_on_crash" json:"restart_on_crash"`
	MaxRestarts    int    `toml:"max_restarts" json:"max_restarts"`
	StopSignal     string `toml:"stop_signal,omitempty" json:"stop_signal,omitempty"`
}

type Definition struct {
	ID        string            `toml:"id" json:"id"`
	Name      string            `toml:"name" json:"name"`
	Entry     Entry             `toml:"entry" json:"entry"`
	JVMFlags  []string          `toml:"jvm_flags,omitempty" json:"jvm_flags,omitempty"`
	Args      []string          `toml:"args,omitempty" json:"args,omitempty"`
	Env       map[string]string `toml:"env,omitempty" json:"env,omitempty"`
	Policy    Policy            `toml:"policy" json:"policy"`
	Workspace capability.Token  `toml:"workspace" json:"workspace"`
	// LockFiles are workspace-relative files that a running instance holds
	// an exclusive lock on, e.g. world/session.lock.
	LockFiles []string `toml:"lock_files,omitempty" json:"lock_files,omitempty"`
}

// Clone returns a deep copy.
func (d Definition) Clone() Definition {
	d.JVMFlags = slices.Clone(d.JVMFlags)
	d.Args = slices.Clone(d.Args)
	d.Env = maps.Clone(d.Env)
	d.LockFiles = slices.Clone(d.LockFiles)
	return d
}

func (d Definition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}
