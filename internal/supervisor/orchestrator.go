// Package supervisor is the lifecycle orchestrator for managed servers. All
// lifecycle state is owned by a single loop goroutine; user requests, process
// exits, timers and metrics results are handed to it as closures.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/carlosprados/keeper/internal/capability"
	"github.com/carlosprados/keeper/internal/definition"
	"github.com/carlosprados/keeper/internal/events"
	"github.com/carlosprados/keeper/internal/metrics"
	"github.com/carlosprados/keeper/internal/runner"
	sysrt "github.com/carlosprados/keeper/internal/runtime"
	"github.com/carlosprados/keeper/internal/sampler"
	"github.com/carlosprados/keeper/internal/store"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownDefinition    = errors.New("unknown server")
	ErrStopping             = errors.New("server is stopping")
	ErrAuthorizationPending = errors.New("runtime authorization pending")
	ErrRestartTimeout       = errors.New("server did not exit in time; force-stop it first")
	ErrDataDirLocked        = errors.New("data directory is locked by another instance")
	ErrServerLive           = errors.New("server is live")
	ErrClosed               = errors.New("orchestrator closed")
)

const (
	DefaultStopTimeout     = 5 * time.Second
	DefaultRestartBackoff  = time.Second
	DefaultRestartTimeout  = 30 * time.Second
	DefaultMetricsInterval = 2 * time.Second

	restartPoll = 100 * time.Millisecond
	inputQueue  = 256
)

// RuntimeResolver finds a runtime when none has been authorized explicitly.
type RuntimeResolver interface {
	Resolve(ctx context.Context) (runner.Runtime, error)
	// Suggest names the location to propose when asking for authorization.
	Suggest() string
}

type Options struct {
	Launcher   Launcher
	Caps       *capability.Manager
	Runtimes   RuntimeResolver
	Bookkeeper Bookkeeper
	Sampler    *sampler.Sampler
	Bus        *events.Bus
	Sessions   *store.SessionTable
	Logs       *store.LogStore

	Strategy        StopStrategy
	StopTimeout     time.Duration
	RestartBackoff  time.Duration
	RestartTimeout  time.Duration
	MetricsInterval time.Duration
}

type server struct {
	def   definition.Definition
	state State

	proc      Process
	detach    func()
	earlyExit *runner.Exit
	metrics   *sampler.Snapshot

	attempts       int
	stopRequested  bool
	stopAfterStart bool
	forced         bool
	forceAvailable bool
	pending        *Mode

	queued []string
	input  chan string

	startGen     int
	stopTimer    *time.Timer
	stopGen      int
	restartTimer *time.Timer
	restartGen   int
}

// Orchestrator drives server lifecycles.
type Orchestrator struct {
	opts Options
	cmds chan func()
	quit chan struct{}
	ctx  context.Context

	// loop-owned
	servers map[string]*server
	runtime *runner.Runtime

	lastErr  atomic.Pointer[events.Event]
	sampling atomic.Bool
}

func New(opts Options) *Orchestrator {
	if opts.Caps == nil {
		opts.Caps = capability.NewManager(nil)
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Sessions == nil {
		opts.Sessions = store.NewSessionTable()
	}
	if opts.Logs == nil {
		opts.Logs = store.NewLogStore(store.DefaultLogLines)
	}
	if opts.Strategy == "" {
		opts.Strategy = StopSignalThenManual
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.RestartBackoff <= 0 {
		opts.RestartBackoff = DefaultRestartBackoff
	}
	if opts.RestartTimeout <= 0 {
		opts.RestartTimeout = DefaultRestartTimeout
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = DefaultMetricsInterval
	}
	o := &Orchestrator{
		opts:    opts,
		cmds:    make(chan func(), 64),
		quit:    make(chan struct{}),
		ctx:     context.Background(),
		servers: make(map[string]*server),
	}
	opts.Launcher.OnExit(func(e runner.Exit) {
		o.post(func() { o.handleExit(e) })
	})
	return o
}

// Run processes requests until ctx is done. Live processes are left running;
// call Shutdown first to stop them.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer close(o.quit)
	if o.opts.Sampler != nil {
		go o.sampleLoop(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			o.teardown()
			return nil
		case fn := <-o.cmds:
			fn()
		}
	}
}

func (o *Orchestrator) teardown() {
	for _, sv := range o.servers {
		o.cancelStopTimer(sv)
		o.cancelRestart(sv)
		if sv.detach != nil {
			sv.detach()
		}
		close(sv.input)
	}
}

// post hands fn to the loop without waiting for it to run.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.cmds <- fn:
	case <-o.quit:
	}
}

// do runs fn on the loop and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case o.cmds <- func() { fn(); close(done) }:
	case <-o.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-o.quit:
		return ErrClosed
	}
}

func (o *Orchestrator) call(ctx context.Context, fn func() error) error {
	var err error
	if derr := o.do(ctx, func() { err = fn() }); derr != nil {
		return derr
	}
	return err
}

func (o *Orchestrator) Bus() *events.Bus { return o.opts.Bus }

// Put adds a definition or replaces an existing one. A replacement takes
// effect on the next start.
func (o *Orchestrator) Put(ctx context.Context, def definition.Definition) error {
	if def.ID == "" {
		return fmt.Errorf("%w: definition has no id", definition.ErrInvalidEntry)
	}
	def = def.Clone()
	return o.call(ctx, func() error {
		if sv, ok := o.servers[def.ID]; ok {
			sv.def = def
			o.publishInfo(sv)
			return nil
		}
		sv := &server{def: def, input: make(chan string, inputQueue)}
		o.servers[def.ID] = sv
		go o.writeInput(def.ID, sv.input)
		o.setState(sv, StateStopped)
		return nil
	})
}

// Remove drops a definition with its session, logs, timers and queued input.
// Live servers must be stopped first.
func (o *Orchestrator) Remove(ctx context.Context, id string) error {
	return o.call(ctx, func() error {
		sv, ok := o.servers[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDefinition, id)
		}
		if sv.state.live() {
			return fmt.Errorf("%w: stop %s before removing it", ErrServerLive, id)
		}
		o.cancelRestart(sv)
		o.cancelStopTimer(sv)
		sv.pending, sv.queued = nil, nil
		close(sv.input)
		delete(o.servers, id)
		o.opts.Sessions.Delete(id)
		o.opts.Logs.Delete(id)
		metrics.Forget(id)
		o.opts.Bus.Publish(events.Event{Kind: events.KindSession, Server: id, State: "removed"})
		log.Info().Str("server", id).Msg("definition removed")
		return nil
	})
}

// Start launches a server on behalf of the user and waits for the spawn
// outcome.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	res := make(chan error, 1)
	if err := o.do(ctx, func() { o.beginStart(id, ModeManual, res) }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop requests a graceful stop according to the configured strategy.
func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	return o.call(ctx, func() error { return o.stop(id) })
}

// ForceStop kills a live server immediately.
func (o *Orchestrator) ForceStop(ctx context.Context, id string) error {
	return o.call(ctx, func() error { return o.forceStop(id) })
}

// Restart stops a live server, waits for it to exit and starts it again. It
// never kills the server itself.
func (o *Orchestrator) Restart(ctx context.Context, id string) error {
	var live bool
	err := o.call(ctx, func() error {
		sv, ok := o.servers[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDefinition, id)
		}
		live = sv.state.live()
		if live {
			return o.stop(id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if live {
		if err := o.awaitExit(ctx, id); err != nil {
			return err
		}
	}
	return o.Start(ctx, id)
}

func (o *Orchestrator) awaitExit(ctx context.Context, id string) error {
	deadline := time.Now().Add(o.opts.RestartTimeout)
	tick := time.NewTicker(restartPoll)
	defer tick.Stop()
	for {
		var st State
		if err := o.do(ctx, func() {
			if sv, ok := o.servers[id]; ok {
				st = sv.state
			}
		}); err != nil {
			return err
		}
		if !st.live() && !o.opts.Launcher.IsRunning(id) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s still running after %s", ErrRestartTimeout, id, o.opts.RestartTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// SendInput writes a line to the server's stdin, or queues it until the next
// successful start when the server is not running.
func (o *Orchestrator) SendInput(ctx context.Context, id, text string) error {
	return o.call(ctx, func() error {
		sv, ok := o.servers[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDefinition, id)
		}
		if sv.state == StateRunning && sv.proc != nil {
			o.enqueueInput(sv, text)
			return nil
		}
		sv.queued = append(sv.queued, text)
		log.Debug().Str("server", id).Int("queued", len(sv.queued)).Msg("input queued")
		return nil
	})
}

// Authorize sets the runtime used for later starts and retries each pending
// start once.
func (o *Orchestrator) Authorize(ctx context.Context, rt runner.Runtime) error {
	return o.call(ctx, func() error {
		o.runtime = &rt
		log.Info().Str("home", rt.Home).Str("exe", rt.Exe).Msg("runtime authorized")
		ids := make([]string, 0, len(o.servers))
		for id := range o.servers {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			sv := o.servers[id]
			if sv.pending == nil || sv.state.live() {
				continue
			}
			mode := *sv.pending
			sv.pending = nil
			o.beginStart(id, mode, nil)
		}
		return nil
	})
}

// Shutdown stops every live server and waits for them to exit. Servers still
// live when ctx expires are force-stopped.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	err := o.do(ctx, func() {
		for id, sv := range o.servers {
			sv.pending = nil
			o.cancelRestart(sv)
			if sv.state.live() {
				if err := o.stop(id); err != nil {
					log.Warn().Str("server", id).Err(err).Msg("stop on shutdown failed")
				}
			}
		}
	})
	if err != nil {
		return err
	}
	tick := time.NewTicker(restartPoll)
	defer tick.Stop()
	for {
		var live []string
		if err := o.do(context.Background(), func() {
			for id, sv := range o.servers {
				if sv.state.live() {
					live = append(live, id)
				}
			}
		}); err != nil {
			return err
		}
		if len(live) == 0 {
			return nil
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			_ = o.do(context.Background(), func() {
				for _, id := range live {
					_ = o.forceStop(id)
				}
			})
			return ctx.Err()
		}
	}
}

// Info returns the published session of a server.
func (o *Orchestrator) Info(id string) (store.ServerInfo, bool) { return o.opts.Sessions.Get(id) }

func (o *Orchestrator) List() []store.ServerInfo { return o.opts.Sessions.List() }

// Logs returns the captured output of a server, the last tail lines when
// tail > 0.
func (o *Orchestrator) Logs(id string, tail int) []string { return o.opts.Logs.Lines(id, tail) }

// LastError returns the most recent error notification.
func (o *Orchestrator) LastError() (events.Event, bool) {
	if e := o.lastErr.Load(); e != nil {
		return *e, true
	}
	return events.Event{}, false
}

func reply(res chan<- error, err error) {
	if res != nil {
		res <- err
	}
}

func (o *Orchestrator) beginStart(id string, mode Mode, res chan<- error) {
	sv, ok := o.servers[id]
	if !ok {
		reply(res, fmt.Errorf("%w: %s", ErrUnknownDefinition, id))
		return
	}
	switch sv.state {
	case StateStarting, StateRunning:
		o.notice(id, sv.def.DisplayName()+" is already running")
		reply(res, nil)
		return
	case StateStopping:
		reply(res, fmt.Errorf("%w: %s", ErrStopping, id))
		return
	}
	o.cancelRestart(sv)
	if mode == ModeManual {
		sv.attempts = 0
	}

	def, warnings, err := Normalize(sv.def)
	for _, w := range warnings {
		o.notice(id, w)
	}
	if err != nil {
		o.fail(id, err)
		reply(res, err)
		return
	}
	if def.Entry.Kind != definition.EntryScript {
		def.JVMFlags = InjectDefaultFlags(def.JVMFlags)
	}

	prev := sv.state
	sv.pending = nil
	sv.earlyExit = nil
	sv.stopRequested, sv.stopAfterStart, sv.forced, sv.forceAvailable = false, false, false, false
	sv.startGen++
	o.setState(sv, StateStarting)

	var configured *runner.Runtime
	if o.runtime != nil {
		rt := *o.runtime
		configured = &rt
	}
	go o.launch(id, sv.startGen, mode, prev, def, configured, res)
}

// launch runs pre-flight checks, resolves the runtime and spawns, off the
// loop. The authorization target is looked up here too since it scans the
// filesystem.
func (o *Orchestrator) launch(id string, gen int, mode Mode, prev State, def definition.Definition, configured *runner.Runtime, res chan<- error) {
	proc, err := o.spawn(o.ctx, def, configured)
	var target string
	if needsAuthorization(err) && o.opts.Runtimes != nil {
		target = o.opts.Runtimes.Suggest()
	}
	o.post(func() { o.finishStart(id, gen, mode, prev, proc, err, target, res) })
}

func needsAuthorization(err error) bool {
	return errors.Is(err, runner.ErrRuntimeNotFound) || errors.Is(err, runner.ErrRuntimeAccessDenied)
}

func (o *Orchestrator) spawn(ctx context.Context, def definition.Definition, configured *runner.Runtime) (Process, error) {
	if err := o.preflight(def); err != nil {
		return nil, err
	}
	var rt runner.Runtime
	switch {
	case configured != nil:
		rt = *configured
	case o.opts.Runtimes != nil:
		found, err := o.opts.Runtimes.Resolve(ctx)
		if err != nil && def.Entry.Kind != definition.EntryScript {
			return nil, err
		}
		rt = found
	case def.Entry.Kind != definition.EntryScript:
		return nil, runner.ErrRuntimeNotFound
	}
	return o.opts.Launcher.Start(ctx, def, rt)
}

// preflight checks the workspace grant and refuses to start over a data
// directory that another instance holds locked.
func (o *Orchestrator) preflight(def definition.Definition) error {
	if def.Workspace.IsZero() {
		return fmt.Errorf("%w: %s has no workspace grant", runner.ErrWorkspaceAccessDenied, def.ID)
	}
	_, err := capability.WithAccess(o.opts.Caps, def.Workspace, func(root string) (struct{}, error) {
		for _, lf := range def.LockFiles {
			path, err := capability.ResolveWithin(root, lf)
			if err != nil {
				return struct{}{}, fmt.Errorf("%w: lock file: %w", definition.ErrInvalidEntry, err)
			}
			st, err := sysrt.ProbeLock(path)
			if err != nil {
				return struct{}{}, err
			}
			switch st {
			case sysrt.LockHeld:
				return struct{}{}, fmt.Errorf("%w: %s", ErrDataDirLocked, path)
			case sysrt.LockStale:
				log.Warn().Str("server", def.ID).Str("lock", path).Msg("stale lock file ignored")
			}
		}
		return struct{}{}, nil
	})
	if errors.Is(err, capability.ErrAccessDenied) {
		return fmt.Errorf("%w: %w", runner.ErrWorkspaceAccessDenied, err)
	}
	return err
}

func (o *Orchestrator) finishStart(id string, gen int, mode Mode, prev State, proc Process, err error, target string, res chan<- error) {
	sv, ok := o.servers[id]
	if !ok || sv.startGen != gen {
		if proc != nil {
			_ = o.opts.Launcher.ForceStop(id)
		}
		reply(res, fmt.Errorf("%w: %s", ErrUnknownDefinition, id))
		return
	}
	if err != nil {
		sv.stopAfterStart = false
		switch {
		case needsAuthorization(err):
			m := mode
			sv.pending = &m
			o.setState(sv, prev)
			o.requestAuthorization(sv, target, err)
			reply(res, fmt.Errorf("%w: %w", ErrAuthorizationPending, err))
		case errors.Is(err, runner.ErrLaunchFailed):
			o.setState(sv, StateCrashed)
			o.fail(id, err)
			reply(res, err)
		default:
			o.setState(sv, prev)
			o.fail(id, err)
			reply(res, err)
		}
		return
	}

	sv.proc = proc
	backlog, detach := proc.Follow(func(_ runner.Stream, line string) { o.opts.Logs.Append(id, line) })
	o.opts.Logs.Append(id, backlog...)
	sv.detach = detach
	if mode == ModeManual && o.opts.Bookkeeper != nil {
		if err := o.opts.Bookkeeper.MarkStarted(id); err != nil {
			log.Warn().Str("server", id).Err(err).Msg("record last started failed")
		}
	}

	if e := sv.earlyExit; e != nil {
		sv.earlyExit = nil
		o.exited(sv, *e)
		reply(res, nil)
		return
	}
	o.setState(sv, StateRunning)
	o.flushInput(sv)
	reply(res, nil)
	if sv.stopAfterStart {
		sv.stopAfterStart = false
		if err := o.stop(id); err != nil {
			log.Warn().Str("server", id).Err(err).Msg("deferred stop failed")
		}
	}
}

func (o *Orchestrator) handleExit(e runner.Exit) {
	sv, ok := o.servers[e.DefinitionID]
	if !ok {
		return
	}
	if sv.proc == nil {
		// Exit raced ahead of the spawn result.
		if sv.state == StateStarting {
			sv.earlyExit = &e
		}
		return
	}
	if sv.proc.RunID() != e.RunID {
		return
	}
	o.exited(sv, e)
}

func (o *Orchestrator) exited(sv *server, e runner.Exit) {
	id := sv.def.ID
	o.cancelStopTimer(sv)
	if sv.detach != nil {
		sv.detach()
		sv.detach = nil
	}
	if o.opts.Sampler != nil {
		o.opts.Sampler.Forget(e.PID)
	}
	metrics.ClearProcess(id)

	st := Classify(sv.stopRequested || sv.forced, e)
	sv.proc, sv.metrics = nil, nil
	sv.stopRequested, sv.stopAfterStart, sv.forced, sv.forceAvailable = false, false, false, false
	log.Info().Str("server", id).Int("pid", e.PID).Str("exit", describeExit(e)).Str("classified", string(st)).Msg("process terminated")

	if st == StateStopped {
		sv.attempts = 0
		o.setState(sv, StateStopped)
		return
	}
	metrics.IncCrashes(id)
	o.setState(sv, StateCrashed)
	o.notice(id, fmt.Sprintf("%s crashed (%s)", sv.def.DisplayName(), describeExit(e)))
	if !sv.def.Policy.RestartOnCrash {
		return
	}
	if sv.attempts >= sv.def.Policy.MaxRestarts {
		o.fail(id, fmt.Errorf("%s crashed again after %d restart attempts; giving up", sv.def.DisplayName(), sv.attempts))
		return
	}
	sv.attempts++
	metrics.IncRestarts(id)
	o.publishInfo(sv)
	o.scheduleRestart(sv)
}

func (o *Orchestrator) scheduleRestart(sv *server) {
	o.cancelRestart(sv)
	id, gen := sv.def.ID, sv.restartGen
	log.Info().Str("server", id).Int("attempt", sv.attempts).Dur("backoff", o.opts.RestartBackoff).Msg("restart scheduled")
	sv.restartTimer = time.AfterFunc(o.opts.RestartBackoff, func() {
		o.post(func() {
			cur, ok := o.servers[id]
			if !ok || cur.restartGen != gen || cur.state != StateCrashed {
				return
			}
			cur.restartTimer = nil
			o.beginStart(id, ModeAutomatic, nil)
		})
	})
}

func (o *Orchestrator) cancelRestart(sv *server) {
	if sv.restartTimer != nil {
		sv.restartTimer.Stop()
		sv.restartTimer = nil
	}
	sv.restartGen++
}

func (o *Orchestrator) stop(id string) error {
	sv, ok := o.servers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDefinition, id)
	}
	switch sv.state {
	case StateStarting:
		sv.stopAfterStart = true
		return nil
	case StateStopping:
		return nil
	case StateRunning:
	default:
		o.cancelRestart(sv)
		if sv.pending != nil {
			sv.pending = nil
			o.publishInfo(sv)
		}
		return nil
	}
	sv.stopRequested = true
	o.setState(sv, StateStopping)
	if o.opts.Strategy == StopImmediate {
		sv.forced = true
		return o.opts.Launcher.ForceStop(id)
	}
	if err := o.opts.Launcher.Stop(id); err != nil && !errors.Is(err, runner.ErrNotRunning) {
		log.Warn().Str("server", id).Err(err).Msg("graceful stop signal failed")
	}
	o.armStopTimer(sv)
	return nil
}

func (o *Orchestrator) forceStop(id string) error {
	sv, ok := o.servers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDefinition, id)
	}
	if sv.proc == nil {
		if sv.state == StateStarting {
			sv.stopAfterStart = true
		}
		return nil
	}
	o.cancelStopTimer(sv)
	sv.stopRequested, sv.forced = true, true
	if sv.state != StateStopping {
		o.setState(sv, StateStopping)
	}
	if err := o.opts.Launcher.ForceStop(id); err != nil && !errors.Is(err, runner.ErrNotRunning) {
		return err
	}
	return nil
}

func (o *Orchestrator) armStopTimer(sv *server) {
	o.cancelStopTimer(sv)
	id, gen, run := sv.def.ID, sv.stopGen, sv.proc.RunID()
	sv.stopTimer = time.AfterFunc(o.opts.StopTimeout, func() {
		o.post(func() { o.stopTimedOut(id, gen, run) })
	})
}

func (o *Orchestrator) cancelStopTimer(sv *server) {
	if sv.stopTimer != nil {
		sv.stopTimer.Stop()
		sv.stopTimer = nil
	}
	sv.stopGen++
}

func (o *Orchestrator) stopTimedOut(id string, gen int, run string) {
	sv, ok := o.servers[id]
	if !ok || sv.stopGen != gen || sv.state != StateStopping || sv.proc == nil || sv.proc.RunID() != run {
		return
	}
	sv.stopTimer = nil
	if o.opts.Strategy == StopSignalThenAuto {
		if sv.forced {
			return
		}
		sv.forced = true
		o.notice(id, fmt.Sprintf("%s did not stop within %s; killing it", sv.def.DisplayName(), o.opts.StopTimeout))
		if err := o.opts.Launcher.ForceStop(id); err != nil && !errors.Is(err, runner.ErrNotRunning) {
			log.Warn().Str("server", id).Err(err).Msg("force stop failed")
		}
		return
	}
	sv.forceAvailable = true
	o.publishInfo(sv)
	o.notice(id, fmt.Sprintf("%s did not stop within %s; force-stop is available", sv.def.DisplayName(), o.opts.StopTimeout))
}

func (o *Orchestrator) flushInput(sv *server) {
	for _, text := range sv.queued {
		o.enqueueInput(sv, text)
	}
	sv.queued = nil
}

func (o *Orchestrator) enqueueInput(sv *server, text string) {
	select {
	case sv.input <- text:
	default:
		log.Warn().Str("server", sv.def.ID).Msg("input backlog full, line dropped")
	}
}

// writeInput feeds one server's stdin in order, off the loop.
func (o *Orchestrator) writeInput(id string, in <-chan string) {
	for text := range in {
		if err := o.opts.Launcher.SendInput(id, text); err != nil {
			log.Warn().Str("server", id).Err(err).Msg("send input failed")
		}
	}
}

func (o *Orchestrator) setState(sv *server, st State) {
	if sv.state != st {
		log.Info().Str("server", sv.def.ID).Str("from", string(sv.state)).Str("state", string(st)).Msg("state change")
	}
	sv.state = st
	metrics.ObserveServerState(sv.def.ID, string(st))
	o.publishInfo(sv)
	o.opts.Bus.Publish(events.Event{Kind: events.KindSession, Server: sv.def.ID, State: string(st)})
}

func (o *Orchestrator) publishInfo(sv *server) {
	info := store.ServerInfo{
		ID:             sv.def.ID,
		Name:           sv.def.DisplayName(),
		State:          string(sv.state),
		Restarts:       sv.attempts,
		ForceAvailable: sv.forceAvailable,
		Pending:        sv.pending != nil,
		Metrics:        sv.metrics,
	}
	if sv.proc != nil {
		info.PID = sv.proc.PID()
		info.StartedAt = sv.proc.StartedAt()
	}
	o.opts.Sessions.Upsert(info)
}

func (o *Orchestrator) notice(id, msg string) {
	log.Info().Str("server", id).Msg(msg)
	o.opts.Bus.Publish(events.Event{Kind: events.KindNotice, Server: id, Message: msg})
}

func (o *Orchestrator) fail(id string, err error) {
	log.Error().Str("server", id).Err(err).Msg("server error")
	e := events.Event{Kind: events.KindError, Server: id, Message: err.Error(), Time: time.Now()}
	o.lastErr.Store(&e)
	o.opts.Bus.Publish(e)
}

func (o *Orchestrator) requestAuthorization(sv *server, target string, err error) {
	msg := fmt.Sprintf("%s needs access to a Java runtime: %v", sv.def.DisplayName(), err)
	log.Warn().Str("server", sv.def.ID).Str("target", target).Err(err).Msg("runtime authorization requested")
	o.opts.Bus.Publish(events.Event{Kind: events.KindAuthorization, Server: sv.def.ID, Message: msg, Target: target})
}
