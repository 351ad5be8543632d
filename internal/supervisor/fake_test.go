package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carlosprados/keeper/internal/definition"
	"github.com/carlosprados/keeper/internal/runner"
)

type fakeProc struct {
	pid     int
	run     string
	started time.Time
}

func (p *fakeProc) PID() int             { return p.pid }
func (p *fakeProc) RunID() string        { return p.run }
func (p *fakeProc) StartedAt() time.Time { return p.started }
func (p *fakeProc) Follow(func(runner.Stream, string)) ([]string, func()) {
	return []string{"boot " + p.run}, func() {}
}

// fakeLauncher records calls and lets tests decide when processes exit.
type fakeLauncher struct {
	mu       sync.Mutex
	onExit   func(runner.Exit)
	live     map[string]*fakeProc
	attempts map[string]int
	starts   map[string]int
	stops    map[string]int
	forces   map[string]int
	inputs   map[string][]string
	defs     []definition.Definition
	runtimes []runner.Runtime
	nextPID  int

	startErr    error
	exitOnStop  bool
	forceNoExit bool
	exitOnStart *runner.Exit
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		live:     map[string]*fakeProc{},
		attempts: map[string]int{},
		starts:   map[string]int{},
		stops:    map[string]int{},
		forces:   map[string]int{},
		inputs:   map[string][]string{},
		nextPID:  1000,
	}
}

func (f *fakeLauncher) OnExit(fn func(runner.Exit)) {
	f.mu.Lock()
	f.onExit = fn
	f.mu.Unlock()
}

func (f *fakeLauncher) Start(_ context.Context, def definition.Definition, rt runner.Runtime) (Process, error) {
	f.mu.Lock()
	f.attempts[def.ID]++
	if f.startErr != nil {
		err := f.startErr
		f.mu.Unlock()
		return nil, err
	}
	f.nextPID++
	p := &fakeProc{pid: f.nextPID, run: fmt.Sprintf("run-%d", f.nextPID), started: time.Now()}
	f.live[def.ID] = p
	f.starts[def.ID]++
	f.defs = append(f.defs, def)
	f.runtimes = append(f.runtimes, rt)
	early := f.exitOnStart
	f.mu.Unlock()

	if early != nil {
		f.exit(def.ID, early.Reason, early.Status)
	}
	return p, nil
}

func (f *fakeLauncher) Stop(id string) error {
	f.mu.Lock()
	f.stops[id]++
	_, live := f.live[id]
	exit := f.exitOnStop
	f.mu.Unlock()
	if !live {
		return runner.ErrNotRunning
	}
	if exit {
		go f.exit(id, runner.ExitSignal, 15)
	}
	return nil
}

func (f *fakeLauncher) ForceStop(id string) error {
	f.mu.Lock()
	f.forces[id]++
	_, live := f.live[id]
	noExit := f.forceNoExit
	f.mu.Unlock()
	if !live {
		return runner.ErrNotRunning
	}
	if !noExit {
		go f.exit(id, runner.ExitSignal, 9)
	}
	return nil
}

func (f *fakeLauncher) IsRunning(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.live[id]
	return ok
}

func (f *fakeLauncher) SendInput(id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[id]; ok {
		f.inputs[id] = append(f.inputs[id], text)
	}
	return nil
}

// exit terminates the live process of id and reports it.
func (f *fakeLauncher) exit(id string, reason runner.ExitReason, status int) bool {
	f.mu.Lock()
	p, ok := f.live[id]
	delete(f.live, id)
	cb := f.onExit
	f.mu.Unlock()
	if !ok {
		return false
	}
	cb(runner.Exit{DefinitionID: id, RunID: p.run, PID: p.pid, Reason: reason, Status: status})
	return true
}

func (f *fakeLauncher) count(m map[string]int, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[id]
}

func (f *fakeLauncher) set(fn func(f *fakeLauncher)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeLauncher) inputsOf(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs[id]...)
}

func (f *fakeLauncher) lastDef() definition.Definition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defs[len(f.defs)-1]
}

type staticResolver struct {
	rt      runner.Runtime
	err     error
	suggest string
}

func (r staticResolver) Resolve(context.Context) (runner.Runtime, error) { return r.rt, r.err }
func (r staticResolver) Suggest() string                                 { return r.suggest }

// slowResolver fails resolution and holds Suggest until release is closed.
type slowResolver struct {
	entered chan struct{}
	release chan struct{}
}

func (r slowResolver) Resolve(context.Context) (runner.Runtime, error) {
	return runner.Runtime{}, runner.ErrRuntimeNotFound
}

func (r slowResolver) Suggest() string {
	close(r.entered)
	<-r.release
	return "/opt/jdk-17"
}
