// Package agent wires the supervision core to its stores, event bridges and
// the local HTTP control surface.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carlosprados/keeper/internal/capability"
	"github.com/carlosprados/keeper/internal/config"
	"github.com/carlosprados/keeper/internal/definition"
	"github.com/carlosprados/keeper/internal/events"
	"github.com/carlosprados/keeper/internal/locator"
	"github.com/carlosprados/keeper/internal/runner"
	sysrt "github.com/carlosprados/keeper/internal/runtime"
	"github.com/carlosprados/keeper/internal/sampler"
	"github.com/carlosprados/keeper/internal/state"
	"github.com/carlosprados/keeper/internal/store"
	"github.com/carlosprados/keeper/internal/supervisor"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const snapshotInterval = 2 * time.Second

// Options defines the runtime configuration of the agent.
type Options struct {
	Config config.Config
	// Locator overrides runtime discovery; nil probes the host.
	Locator *locator.Locator
}

// Agent is the top-level runtime handle for keeper.
type Agent struct {
	cfg    config.Config
	start  time.Time
	closed atomic.Bool

	files  *store.FileStore
	grants *store.BoltGrants
	caps   *capability.Manager
	loc    *locator.Locator
	orch   *supervisor.Orchestrator
	sinks  []events.Sink

	// serializes read-modify-write of servers.toml and settings.toml
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the data directory and builds the component graph. Nothing runs
// until Start.
func New(opts Options) (*Agent, error) {
	cfg := opts.Config
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	files := store.NewFileStore(cfg.DataDir)
	settings, err := files.LoadSettings()
	if err != nil {
		return nil, err
	}
	strategy, err := supervisor.ParseStopStrategy(settings.StopStrategy)
	if err != nil {
		return nil, err
	}
	var interval time.Duration
	if settings.MetricsInterval != "" {
		if interval, err = time.ParseDuration(settings.MetricsInterval); err != nil {
			return nil, fmt.Errorf("metrics_interval: %w", err)
		}
	}

	grants, err := store.OpenGrants(filepath.Join(cfg.DataDir, "grants.db"))
	if err != nil {
		return nil, err
	}
	caps := capability.NewManager(grants)
	loc := opts.Locator
	if loc == nil {
		loc = locator.New(locator.Options{Constraint: ">= 8"})
	}

	orch := supervisor.New(supervisor.Options{
		Launcher:        supervisor.NewRunnerLauncher(runner.New(caps)),
		Caps:            caps,
		Runtimes:        supervisor.LocatorResolver{Locator: loc},
		Bookkeeper:      files,
		Sampler:         sampler.New(sampler.ProcReader{}, sampler.CoreCount(context.Background())),
		Strategy:        strategy,
		MetricsInterval: interval,
	})

	a := &Agent{
		cfg:    cfg,
		start:  time.Now(),
		files:  files,
		grants: grants,
		caps:   caps,
		loc:    loc,
		orch:   orch,
	}
	a.dialBridges()
	return a, nil
}

// dialBridges connects the optional event bridges. A bridge that cannot
// connect is skipped.
func (a *Agent) dialBridges() {
	if url := a.cfg.NATSURL; url != "" {
		s, err := events.DialNATS(url, a.cfg.TopicPrefix)
		if err != nil {
			log.Warn().Str("url", url).Err(err).Msg("nats bridge disabled")
		} else {
			a.sinks = append(a.sinks, s)
		}
	}
	if broker := a.cfg.MQTTBroker; broker != "" {
		s, err := events.DialMQTT(broker, "keeper-"+uuid.NewString()[:8], a.cfg.TopicPrefix)
		if err != nil {
			log.Warn().Str("broker", broker).Err(err).Msg("mqtt bridge disabled")
		} else {
			a.sinks = append(a.sinks, s)
		}
	}
}

// Start runs the orchestrator, loads the definitions and restores the
// authorized runtime.
func (a *Agent) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		_ = a.orch.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		events.Forward(runCtx, a.orch.Bus(), a.sinks...)
	}()
	go func() {
		defer a.wg.Done()
		a.snapshotLoop(runCtx)
	}()

	a.reportOrphans()

	defs, err := a.files.LoadDefinitions()
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := a.orch.Put(ctx, def); err != nil {
			return fmt.Errorf("load %s: %w", def.ID, err)
		}
	}
	log.Info().Int("servers", len(defs)).Str("dir", a.cfg.DataDir).Msg("definitions loaded")

	settings, err := a.files.LoadSettings()
	if err != nil {
		return err
	}
	if settings.RuntimeGrant != nil && settings.RuntimePath != "" {
		rt := runner.Runtime{Home: settings.RuntimePath, Exe: locator.ExecutableIn(settings.RuntimePath), Token: settings.RuntimeGrant}
		if err := a.orch.Authorize(ctx, rt); err != nil {
			return err
		}
	}
	return nil
}

// reportOrphans warns about servers a previous daemon left running.
func (a *Agent) reportOrphans() {
	snap, err := state.Load(a.stateDir())
	if err != nil {
		log.Warn().Err(err).Msg("session snapshot unreadable")
		return
	}
	if snap.DaemonPID == os.Getpid() {
		return
	}
	for _, s := range state.Orphans(snap, sysrt.IsProcessRunning) {
		msg := fmt.Sprintf("%s (pid %d) from a previous keeper run is still alive", s.Name, s.PID)
		log.Warn().Str("server", s.ID).Int("pid", s.PID).Msg("orphaned server process")
		a.orch.Bus().Publish(events.Event{Kind: events.KindNotice, Server: s.ID, Message: msg, Time: time.Now()})
	}
}

func (a *Agent) stateDir() string { return filepath.Join(a.cfg.DataDir, "state") }

func (a *Agent) snapshotLoop(ctx context.Context) {
	t := time.NewTicker(snapshotInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.persistSnapshot()
		}
	}
}

func (a *Agent) persistSnapshot() {
	snap := state.Snapshot{DaemonPID: os.Getpid(), Updated: time.Now().UTC(), Servers: a.orch.List()}
	if err := state.Save(a.stateDir(), snap); err != nil {
		log.Warn().Err(err).Msg("save session snapshot failed")
	}
}

// Close stops every server, then releases the agent's resources.
func (a *Agent) Close(ctx context.Context) error {
	if a.closed.Swap(true) {
		return nil
	}
	var errs []error
	if a.cancel != nil {
		if err := a.orch.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown servers: %w", err))
		}
		a.persistSnapshot()
		a.cancel()
		a.wg.Wait()
	}
	for _, s := range a.sinks {
		s.Close()
	}
	if err := a.grants.Close(); err != nil {
		errs = append(errs, err)
	}
	log.Info().Msg("agent closed")
	return errors.Join(errs...)
}

// AuthorizeRuntime grants access to a runtime home, persists the grant and
// retries pending starts with it.
func (a *Agent) AuthorizeRuntime(ctx context.Context, home string) (runner.Runtime, error) {
	home, err := filepath.Abs(home)
	if err != nil {
		return runner.Runtime{}, err
	}
	tok, err := a.caps.Create(home, 0)
	if err != nil {
		return runner.Runtime{}, err
	}
	a.mu.Lock()
	var old *capability.Token
	err = a.files.UpdateSettings(func(s *store.Settings) {
		old = s.RuntimeGrant
		s.RuntimePath = home
		s.RuntimeGrant = &tok
	})
	a.mu.Unlock()
	if err != nil {
		return runner.Runtime{}, err
	}
	if old != nil && old.ID != tok.ID {
		if err := a.caps.Revoke(old.ID); err != nil {
			log.Warn().Str("grant", old.ID).Err(err).Msg("revoke previous runtime grant failed")
		}
	}
	rt := runner.Runtime{Home: home, Exe: locator.ExecutableIn(home), Token: &tok}
	return rt, a.orch.Authorize(ctx, rt)
}

// GrantWorkspace grants access to dir as the workspace of a definition and
// persists it.
func (a *Agent) GrantWorkspace(ctx context.Context, id, dir string) (capability.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defs, err := a.files.LoadDefinitions()
	if err != nil {
		return capability.Token{}, err
	}
	i := -1
	for n := range defs {
		if defs[n].ID == id {
			i = n
			break
		}
	}
	if i < 0 {
		return capability.Token{}, fmt.Errorf("%w: %s", supervisor.ErrUnknownDefinition, id)
	}
	tok, err := a.caps.Create(dir, 0)
	if err != nil {
		return capability.Token{}, err
	}
	old := defs[i].Workspace
	defs[i].Workspace = tok
	if err := a.files.SaveDefinitions(defs); err != nil {
		return capability.Token{}, err
	}
	if !old.IsZero() {
		if err := a.caps.Revoke(old.ID); err != nil {
			log.Warn().Str("grant", old.ID).Err(err).Msg("revoke previous workspace grant failed")
		}
	}
	return tok, a.orch.Put(ctx, defs[i])
}

// Candidates returns the quick discovery result and the homes worth offering
// for manual selection. full also runs the exhaustive scan.
func (a *Agent) Candidates(ctx context.Context, full bool) (found *locator.Candidate, likely []string) {
	if c, ok := a.loc.FindFast(ctx); ok {
		found = &c
	} else if full {
		if c, ok := a.loc.FindFull(ctx); ok {
			found = &c
		}
	}
	return found, a.loc.LikelyHomesForPrompt()
}

// Definitions returns the stored definitions.
func (a *Agent) Definitions() ([]definition.Definition, error) {
	return a.files.LoadDefinitions()
}
