// Package runner spawns server processes, captures their output line by line
// and reports their termination.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/carlosprados/keeper/internal/capability"
	"github.com/carlosprados/keeper/internal/definition"
	"github.com/carlosprados/keeper/internal/logring"
	sysrt "github.com/carlosprados/keeper/internal/runtime"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

var (
	ErrInvalidEntry          = definition.ErrInvalidEntry
	ErrRuntimeNotFound       = errors.New("runtime not found")
	ErrWorkspaceAccessDenied = errors.New("workspace access denied")
	ErrRuntimeAccessDenied   = errors.New("runtime access denied")
	ErrExecutionBlocked      = errors.New("runtime access granted but execution blocked")
	ErrLaunchFailed          = errors.New("launch failed")
	ErrNotRunning            = errors.New("not running")
)

const (
	// readerGrace is how long output readers may outlive the process before
	// their pipes are closed under them (grandchildren holding the pipes).
	readerGrace = 2 * time.Second
	// drainGrace bounds delivery of queued lines after exit.
	drainGrace = 2 * time.Second
)

// Runner starts and signals server processes. It keeps one session per
// definition id.
type Runner struct {
	caps *capability.Manager

	mu       sync.Mutex
	sessions map[string]*Session
	onExit   func(Exit)
}

func New(caps *capability.Manager) *Runner {
	return &Runner{caps: caps, sessions: make(map[string]*Session)}
}

// OnExit sets the termination callback. It is invoked once per session after
// all output has been delivered and capability scopes are released.
func (r *Runner) OnExit(fn func(Exit)) {
	r.mu.Lock()
	r.onExit = fn
	r.mu.Unlock()
}

// Start spawns def. The workspace grant is held until the process exits.
func (r *Runner) Start(ctx context.Context, def definition.Definition, rt Runtime) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := def.Entry.Validate(); err != nil {
		return nil, err
	}
	stopSig := syscall.SIGTERM
	if def.Policy.StopSignal != "" {
		sig, err := sysrt.ParseSignal(def.Policy.StopSignal)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
		}
		stopSig = sig
	}

	r.mu.Lock()
	if prev, ok := r.sessions[def.ID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s already has live pid %d", ErrLaunchFailed, def.ID, prev.PID)
	}
	r.mu.Unlock()

	if def.Workspace.IsZero() {
		return nil, fmt.Errorf("%w: %s has no workspace grant", ErrWorkspaceAccessDenied, def.ID)
	}
	ws, err := r.caps.Enter(def.Workspace)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWorkspaceAccessDenied, err)
	}
	scopes := []*capability.Scope{ws}
	release := func() {
		for _, s := range scopes {
			s.Close()
		}
	}

	if def.Entry.Kind != definition.EntryScript || rt.Token != nil {
		rs, err := r.enterRuntime(def, rt)
		if err != nil {
			release()
			return nil, err
		}
		if rs != nil {
			scopes = append(scopes, rs)
		}
	}

	c, err := BuildCommand(def, ws.Path, rt)
	if err != nil {
		release()
		return nil, err
	}
	s, err := r.spawn(def, c, stopSig, scopes)
	if err != nil {
		release()
		return nil, err
	}
	return s, nil
}

// enterRuntime checks the runtime executable. A runtime without a usable
// grant is still accepted when it is executable on its own.
func (r *Runner) enterRuntime(def definition.Definition, rt Runtime) (*capability.Scope, error) {
	if rt.Exe == "" {
		if def.Entry.Kind == definition.EntryScript {
			return nil, nil
		}
		return nil, ErrRuntimeNotFound
	}
	if rt.Token == nil {
		if !isExecutable(rt.Exe) {
			return nil, fmt.Errorf("%w: %s", ErrRuntimeNotFound, rt.Exe)
		}
		return nil, nil
	}
	scope, err := r.caps.Enter(*rt.Token)
	if err != nil {
		if isExecutable(rt.Exe) {
			log.Debug().Str("server", def.ID).Str("runtime", rt.Exe).Msg("runtime executable without grant")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrRuntimeAccessDenied, err)
	}
	if !isExecutable(rt.Exe) {
		scope.Close()
		return nil, fmt.Errorf("%w: %s", ErrExecutionBlocked, rt.Exe)
	}
	return scope, nil
}

func (r *Runner) spawn(def definition.Definition, c Command, stopSig syscall.Signal, scopes []*capability.Scope) (*Session, error) {
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin, cmd.Stdout, cmd.Stderr = inR, outW, errW
	// Own process group so signals reach the JVM's children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		log.Error().Str("server", def.ID).Str("cmd", c.Path).Err(err).Msg("spawn failed")
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	closeAll(inR, outW, errW)

	s := &Session{
		DefinitionID: def.ID,
		RunID:        uuid.NewString(),
		PID:          cmd.Process.Pid,
		StartedAt:    time.Now(),
		cmd:          cmd,
		stopSignal:   stopSig,
		ring:         logring.New(logring.DefaultCapacity),
		scopes:       scopes,
		stdin:        inW,
		subs:         make(map[int]*subscriber),
		done:         make(chan struct{}),
	}
	r.mu.Lock()
	r.sessions[def.ID] = s
	r.mu.Unlock()

	log.Info().Str("server", def.ID).Int("pid", s.PID).Str("cmd", c.Path).
		Str("args", strings.Join(c.Args, " ")).Msg("process started")

	var readers sync.WaitGroup
	readers.Add(2)
	go r.read(s, Stdout, outR, &readers)
	go r.read(s, Stderr, errR, &readers)
	go r.wait(s, &readers, outR, errR)
	return s, nil
}

func (r *Runner) read(s *Session, stream Stream, f *os.File, wg *sync.WaitGroup) {
	defer wg.Done()
	err := splitLines(f, func(line string) { s.deliver(stream, line) })
	if err != nil {
		log.Debug().Str("server", s.DefinitionID).Str("stream", string(stream)).Err(err).Msg("output reader stopped")
	}
}

func (r *Runner) wait(s *Session, readers *sync.WaitGroup, pipes ...*os.File) {
	werr := s.cmd.Wait()

	flushed := make(chan struct{})
	go func() {
		readers.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(readerGrace):
		closeAll(pipes...)
		<-flushed
	}
	closeAll(pipes...)
	s.closeStdin()
	s.drain(drainGrace)

	e := exitOf(s, werr)
	for _, sc := range s.scopes {
		sc.Close()
	}

	r.mu.Lock()
	if r.sessions[s.DefinitionID] == s {
		delete(r.sessions, s.DefinitionID)
	}
	cb := r.onExit
	r.mu.Unlock()

	log.Info().Str("server", s.DefinitionID).Int("pid", s.PID).Str("reason", string(e.Reason)).
		Int("status", e.Status).Msg("process exited")
	s.exit = e
	if cb != nil {
		cb(e)
	}
	close(s.done)
}

func exitOf(s *Session, werr error) Exit {
	e := Exit{DefinitionID: s.DefinitionID, RunID: s.RunID, PID: s.PID}
	st := s.cmd.ProcessState
	if st == nil {
		e.Reason, e.Status, e.Err = ExitNormal, -1, werr
		return e
	}
	if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		e.Reason, e.Status = ExitSignal, int(ws.Signal())
		return e
	}
	e.Reason, e.Status = ExitNormal, st.ExitCode()
	return e
}

// Session returns the live session for id.
func (r *Runner) Session(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Stop delivers the configured stop signal, SIGTERM by default. It does not
// wait for the process to exit.
func (r *Runner) Stop(id string) error {
	s, ok := r.Session(id)
	if !ok {
		return ErrNotRunning
	}
	return r.signal(s, s.stopSignal)
}

// ForceStop delivers SIGKILL to the process group.
func (r *Runner) ForceStop(id string) error {
	s, ok := r.Session(id)
	if !ok {
		return ErrNotRunning
	}
	return r.signal(s, syscall.SIGKILL)
}

func (r *Runner) signal(s *Session, sig syscall.Signal) error {
	err := sysrt.SignalGroup(s.PID, sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("signal %s to %s: %w", unix.SignalName(sig), s.DefinitionID, err)
	}
	log.Info().Str("server", s.DefinitionID).Int("pid", s.PID).Str("signal", unix.SignalName(sig)).Msg("signal sent")
	return nil
}

// IsRunning asks the OS whether the session's process is alive.
func (r *Runner) IsRunning(id string) bool {
	s, ok := r.Session(id)
	if !ok {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	return sysrt.IsProcessRunning(s.PID)
}

// SendInput writes text and a trailing newline to the process stdin. It is a
// no-op when the process is not live.
func (r *Runner) SendInput(id, text string) error {
	s, ok := r.Session(id)
	if !ok || !r.IsRunning(id) {
		return nil
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := s.write(text); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("send input to %s: %w", id, err)
	}
	return nil
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
