package supervisor

import (
	"fmt"

	"github.com/carlosprados/keeper/internal/runner"
)

// State represents the lifecycle state of a server.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateCrashed  State = "crashed"
)

// live reports whether a process exists or is being created.
func (s State) live() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// Mode tells a user-initiated start from a restart after a crash.
type Mode int

const (
	ModeManual Mode = iota
	ModeAutomatic
)

// StopStrategy selects how a graceful stop escalates.
type StopStrategy string

const (
	// StopSignalThenManual signals and, after the stop timeout, offers force-stop.
	StopSignalThenManual StopStrategy = "signal-then-manual"
	// StopSignalThenAuto signals and force-stops after the stop timeout.
	StopSignalThenAuto StopStrategy = "signal-then-auto"
	// StopImmediate kills without a graceful signal.
	StopImmediate StopStrategy = "immediate"
)

func ParseStopStrategy(s string) (StopStrategy, error) {
	switch StopStrategy(s) {
	case "":
		return StopSignalThenManual, nil
	case StopSignalThenManual, StopSignalThenAuto, StopImmediate:
		return StopStrategy(s), nil
	}
	return "", fmt.Errorf("unknown stop strategy %q", s)
}

// Classify decides the state a terminated process leaves behind. Any exit
// after a requested stop is clean; otherwise a signal or non-zero status is
// a crash.
func Classify(stopRequested bool, e runner.Exit) State {
	if stopRequested {
		return StateStopped
	}
	if e.Reason == runner.ExitSignal || e.Status != 0 {
		return StateCrashed
	}
	return StateStopped
}

func describeExit(e runner.Exit) string {
	if e.Reason == runner.ExitSignal {
		return fmt.Sprintf("killed by signal %d", e.Status)
	}
	return fmt.Sprintf("exit status %d", e.Status)
}
