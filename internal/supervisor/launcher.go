package supervisor

import (
	"context"
	"time"

	"github.com/carlosprados/keeper/internal/definition"
	"github.com/carlosprados/keeper/internal/runner"
)

// Process is a spawned server process.
type Process interface {
	PID() int
	RunID() string
	StartedAt() time.Time
	// Follow returns the buffered output and registers h for every later
	// line of either stream.
	Follow(h func(runner.Stream, string)) (backlog []string, detach func())
}

// Launcher spawns and signals processes. Exits are reported through the
// OnExit callback only.
type Launcher interface {
	Start(ctx context.Context, def definition.Definition, rt runner.Runtime) (Process, error)
	Stop(id string) error
	ForceStop(id string) error
	IsRunning(id string) bool
	SendInput(id, text string) error
	OnExit(fn func(runner.Exit))
}

//go:generate mockgen -destination=mocks/mock_bookkeeper.go -package=mocks github.com/carlosprados/keeper/internal/supervisor Bookkeeper

// Bookkeeper records user-initiated starts.
type Bookkeeper interface {
	MarkStarted(id string) error
}

// NewRunnerLauncher adapts a runner.Runner.
func NewRunnerLauncher(r *runner.Runner) Launcher { return runnerLauncher{r} }

type runnerLauncher struct{ *runner.Runner }

func (l runnerLauncher) Start(ctx context.Context, def definition.Definition, rt runner.Runtime) (Process, error) {
	s, err := l.Runner.Start(ctx, def, rt)
	if err != nil {
		return nil, err
	}
	return sessionProcess{s}, nil
}

type sessionProcess struct{ s *runner.Session }

func (p sessionProcess) PID() int             { return p.s.PID }
func (p sessionProcess) RunID() string        { return p.s.RunID }
func (p sessionProcess) StartedAt() time.Time { return p.s.StartedAt }

func (p sessionProcess) Follow(h func(runner.Stream, string)) ([]string, func()) {
	return p.s.Follow(h)
}
