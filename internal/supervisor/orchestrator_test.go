package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/carlosprados/keeper/internal/capability"
	"github.com/carlosprados/keeper/internal/definition"
	"github.com/carlosprados/keeper/internal/events"
	"github.com/carlosprados/keeper/internal/runner"
	"github.com/carlosprados/keeper/internal/sampler"
	"github.com/carlosprados/keeper/internal/supervisor/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sys/unix"
)

const waitFor = 3 * time.Second

var testRuntime = runner.Runtime{Home: "/opt/jdk", Exe: "/opt/jdk/bin/java"}

type harness struct {
	o      *Orchestrator
	l      *fakeLauncher
	caps   *capability.Manager
	ws     capability.Token
	dir    string
	events <-chan events.Event
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	caps := capability.NewManager(nil)
	dir := t.TempDir()
	ws, err := caps.Create(dir, 0)
	require.NoError(t, err)

	l := newFakeLauncher()
	opts := Options{
		Launcher:       l,
		Caps:           caps,
		Runtimes:       staticResolver{rt: testRuntime},
		StopTimeout:    50 * time.Millisecond,
		RestartBackoff: 20 * time.Millisecond,
		RestartTimeout: 300 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	o := New(opts)
	ch, unsubscribe := o.Bus().Subscribe(512)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		unsubscribe()
	})
	return &harness{o: o, l: l, caps: caps, ws: ws, dir: dir, events: ch}
}

func (h *harness) put(t *testing.T, id string, mutate func(*definition.Definition)) {
	t.Helper()
	def := definition.Definition{
		ID:        id,
		Name:      strings.ToUpper(id),
		Entry:     definition.Entry{Kind: definition.EntryJar, JarPath: "server.jar"},
		Workspace: h.ws,
	}
	if mutate != nil {
		mutate(&def)
	}
	require.NoError(t, h.o.Put(context.Background(), def))
}

func (h *harness) state(id string) State {
	info, ok := h.o.Info(id)
	if !ok {
		return ""
	}
	return State(info.State)
}

func (h *harness) waitState(t *testing.T, id string, st State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.state(id) == st }, waitFor, 5*time.Millisecond,
		"want %s, have %s", st, h.state(id))
}

// waitEvent consumes events until one matches.
func (h *harness) waitEvent(t *testing.T, match func(events.Event) bool) events.Event {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case e := <-h.events:
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatal("event not published")
			return events.Event{}
		}
	}
}

func kind(k events.Kind, contains string) func(events.Event) bool {
	return func(e events.Event) bool { return e.Kind == k && strings.Contains(e.Message, contains) }
}

func session(id string, st State) func(events.Event) bool {
	return func(e events.Event) bool {
		return e.Kind == events.KindSession && e.Server == id && e.State == string(st)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, "a", nil)
	ctx := context.Background()

	require.NoError(t, h.o.Start(ctx, "a"))
	assert.Equal(t, StateRunning, h.state("a"))
	require.NoError(t, h.o.Start(ctx, "a"))
	h.waitEvent(t, kind(events.KindNotice, "already running"))
	assert.Equal(t, 1, h.l.count(h.l.starts, "a"))

	info, _ := h.o.Info("a")
	assert.Equal(t, 1001, info.PID)
	assert.Contains(t, h.o.Logs("a", 0), "boot run-1001")
}

func TestStartInjectsDefaultFlags(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, "a", func(d *definition.Definition) { d.JVMFlags = []string{"-Djna.nosys=false", "-Xmx1G"} })
	require.NoError(t, h.o.Start(context.Background(), "a"))

	flags := h.l.lastDef().JVMFlags
	assert.Equal(t, []string{
		"-Dio.netty.transport.noNative=true",
		"-Djava.awt.headless=true",
		"-Djna.nosys=false",
		"-Xmx1G",
	}, flags)
}

func TestStartNormalizesPastedCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, "a", func(d *definition.Definition) {
		d.Entry = definition.Entry{Kind: definition.EntryClass, MainClass: "java -Xmx2G -jar foo.jar --port 25565"}
	})
	require.NoError(t, h.o.Start(context.Background(), "a"))
	h.waitEvent(t, kind(events.KindNotice, "main class field"))

	def := h.l.lastDef()
	assert.Equal(t, definition.EntryJar, def.Entry.Kind)
	assert.Equal(t, "foo.jar", def.Entry.JarPath)
	assert.Equal(t, []string{"--port", "25565"}, def.Args)
}

func TestExitClassification(t *testing.T) {
	cases := []struct {
		name   string
		stop   bool
		reason runner.ExitReason
		status int
		want   State
	}{
		{"clean exit", false, runner.ExitNormal, 0, StateStopped},
		{"status 137", false, runner.ExitNormal, 137, StateCrashed},
		{"signal", false, runner.ExitSignal, 9, StateCrashed},
		{"after stop", true, runner.ExitNormal, 137, StateStopped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.put(t, "a", nil)
			require.NoError(t, h.o.Start(context.Background(), "a"))
			if tc.stop {
				require.NoError(t, h.o.Stop(context.Background(), "a"))
				h.waitState(t, "a", StateStopping)
			}
			require.True(t, h.l.exit("a", tc.reason, tc.status))
			h.waitState(t, "a", tc.want)
			info, _ := h.o.Info("a")
			assert.Zero(t, info.PID)
		})
	}
}

func TestAutoRestartAfterCrash(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, "a", func(d *definition.Definition) {
		d.Policy = definition.Policy{RestartOnCrash: true, MaxRestarts: 1}
	})
	require.NoError(t, h.o.Start(context.Background(), "a"))

	require.True(t, h.l.exit("a", runner.ExitNormal, 1))
	h.waitEvent(t, session("a", StateCrashed))
	require.Eventually(t, func() bool {
		return h.l.count(h.l.starts, "a") == 2 && h.state("a") == StateRunning
	}, waitFor, 5*time.Millisecond)

	info, _ := h.o.Info("a")
	assert.Equal(t, 1, info.Restarts)
}

func TestAutoRestartIsBounded(t *testing.T) {
	ctrl := gomock.NewController(t)
	book := mocks.NewMockBookkeeper(ctrl)
	book.EXPECT().MarkStarted("a").Return(nil).Times(1)

	h := newHarness(t, func(o *Options) { o.Bookkeeper = book })
	h.put(t, "a", func(d *definition.Definition) {
		d.Policy = definition.Policy{RestartOnCrash: true, MaxRestarts: 2}
	})
	require.NoError(t, h.o.Start(context.Background(), "a"))

	for want := 2; want <= 3; want++ {
		require.True(t, h.l.exit("a", runner.ExitNormal, 1))
		require.Eventually(t, func() bool {
			return h.l.count(h.l.starts, "a") == want && h.state("a") == StateRunning
		}, waitFor, 5*time.Millisecond)
	}

	require.True(t, h.l.exit("a", runner.ExitNormal, 1))
	h.waitEvent(t, kind(events.KindError, "giving up"))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, h.l.count(h.l.starts, "a"))
	assert.Equal(t, StateCrashed, h.state("a"))

	last, ok := h.o.LastError()
	require.True(t, ok)
	assert.Equal(t, "a", last.Server)
}

func TestManualStartResetsAttempts(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, "a", func(d *definition.Definition) {
		d.Policy = definition.Policy{RestartOnCrash: true, MaxRestarts: 1}
	})
	require.NoError(t, h.o.Start(context.Background(), "a"))
	require.True(t, h.l.exit("a", runner.ExitNormal, 1))
	require.Eventually(t, func() bool { return h.l.count(h.l.starts, "a") == 2 }, waitFor, 5*time.Millisecond)
	h.waitState(t, "a", StateRunning)

	require.True(t, h.l.exit("a", runner.ExitNormal, 1))
	h.waitEvent(t, kind(events.KindError, "giving up"))

	require.NoError(t, h.o.Start(context.Background(), "a"))
	info, _ := h.o.Info("a")
	assert.Zero(t, info.Restarts)
}

func TestStopSignalThenAutoForce(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Strategy = StopSignalThenAuto })
	h.l.set(func(f *fakeLauncher) { f.forceNoExit = true })
	h.put(t, "a", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))

	require.NoError(t, h.o.Stop(context.Background(), "a"))
	assert.Equal(t, 1, h.l.count(h.l.stops, "a"))
	require.Eventually(t, func() bool { return h.l.count(h.l.forces, "a") == 1 }, waitFor, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, h.l.count(h.l.forces, "a"))
	assert.Equal(t, StateStopping, h.state("a"))

	require.True(t, h.l.exit("a", runner.ExitSignal, 9))
	h.waitState(t, "a", StateStopped)
}

func TestStopSignalThenManualForce(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, "a", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))
	require.NoError(t, h.o.Stop(context.Background(), "a"))

	require.Eventually(t, func() bool {
		info, _ := h.o.Info("a")
		return info.ForceAvailable
	}, waitFor, 5*time.Millisecond)
	h.waitEvent(t, kind(events.KindNotice, "force-stop is available"))
	assert.Zero(t, h.l.count(h.l.forces, "a"))

	require.NoError(t, h.o.ForceStop(context.Background(), "a"))
	h.waitState(t, "a", StateStopped)
	info, _ := h.o.Info("a")
	assert.False(t, info.ForceAvailable)
	assert.Equal(t, 1, h.l.count(h.l.forces, "a"))
}

func TestStopImmediate(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Strategy = StopImmediate })
	h.put(t, "a", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))
	require.NoError(t, h.o.Stop(context.Background(), "a"))
	h.waitState(t, "a", StateStopped)
	assert.Zero(t, h.l.count(h.l.stops, "a"))
	assert.Equal(t, 1, h.l.count(h.l.forces, "a"))
}

func TestStopTimerCancelledByExit(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Strategy = StopSignalThenAuto })
	h.l.set(func(f *fakeLauncher) { f.exitOnStop = true })
	h.put(t, "a", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))
	require.NoError(t, h.o.Stop(context.Background(), "a"))
	h.waitState(t, "a", StateStopped)
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, h.l.count(h.l.forces, "a"))
}

func TestStartWhileStoppingIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, "a", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))
	require.NoError(t, h.o.Stop(context.Background(), "a"))
	assert.ErrorIs(t, h.o.Start(context.Background(), "a"), ErrStopping)
	assert.Equal(t, 1, h.l.count(h.l.starts, "a"))
}

func TestInputQueuedUntilStart(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, "a", nil)
	ctx := context.Background()
	require.NoError(t, h.o.SendInput(ctx, "a", "op alice"))
	require.NoError(t, h.o.SendInput(ctx, "a", "say hi"))
	assert.Empty(t, h.l.inputsOf("a"))

	require.NoError(t, h.o.Start(ctx, "a"))
	require.NoError(t, h.o.SendInput(ctx, "a", "list"))
	require.Eventually(t, func() bool { return len(h.l.inputsOf("a")) == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"op alice", "say hi", "list"}, h.l.inputsOf("a"))
}

func TestRestartWaitsForExit(t *testing.T) {
	h := newHarness(t, nil)
	h.l.set(func(f *fakeLauncher) { f.exitOnStop = true })
	h.put(t, "a", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))

	require.NoError(t, h.o.Restart(context.Background(), "a"))
	assert.Equal(t, StateRunning, h.state("a"))
	assert.Equal(t, 2, h.l.count(h.l.starts, "a"))
	assert.Equal(t, 1, h.l.count(h.l.stops, "a"))
}

func TestRestartTimesOutWithoutKilling(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, "a", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))

	err := h.o.Restart(context.Background(), "a")
	assert.ErrorIs(t, err, ErrRestartTimeout)
	assert.Zero(t, h.l.count(h.l.forces, "a"))
	assert.Equal(t, 1, h.l.count(h.l.starts, "a"))
}

func TestPendingAuthorizationRetriesOnce(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Runtimes = staticResolver{err: runner.ErrRuntimeNotFound, suggest: "/opt/jdk-21"}
	})
	h.put(t, "a", nil)

	err := h.o.Start(context.Background(), "a")
	assert.ErrorIs(t, err, ErrAuthorizationPending)
	assert.Equal(t, StateStopped, h.state("a"))
	info, _ := h.o.Info("a")
	assert.True(t, info.Pending)
	ev := h.waitEvent(t, func(e events.Event) bool { return e.Kind == events.KindAuthorization })
	assert.Equal(t, "/opt/jdk-21", ev.Target)
	assert.Zero(t, h.l.count(h.l.attempts, "a"))

	// The authorized runtime is denied as well: one retry, then pending again.
	h.l.set(func(f *fakeLauncher) { f.startErr = runner.ErrRuntimeAccessDenied })
	require.NoError(t, h.o.Authorize(context.Background(), testRuntime))
	h.waitEvent(t, func(e events.Event) bool { return e.Kind == events.KindAuthorization })
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.l.count(h.l.attempts, "a"))

	h.l.set(func(f *fakeLauncher) { f.startErr = nil })
	require.NoError(t, h.o.Authorize(context.Background(), testRuntime))
	h.waitState(t, "a", StateRunning)
	assert.Equal(t, 2, h.l.count(h.l.attempts, "a"))
	h.l.mu.Lock()
	assert.Equal(t, testRuntime, h.l.runtimes[0])
	h.l.mu.Unlock()
}

func TestAuthorizationTargetLookupDoesNotBlockLoop(t *testing.T) {
	r := slowResolver{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, func(o *Options) { o.Runtimes = r })
	h.put(t, "a", nil)

	res := make(chan error, 1)
	go func() { res <- h.o.Start(context.Background(), "a") }()
	select {
	case <-r.entered:
	case <-time.After(waitFor):
		close(r.release)
		t.Fatal("target lookup never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := h.o.Put(ctx, definition.Definition{
		ID:        "b",
		Entry:     definition.Entry{Kind: definition.EntryJar, JarPath: "server.jar"},
		Workspace: h.ws,
	})
	close(r.release)
	require.NoError(t, err)

	assert.ErrorIs(t, <-res, ErrAuthorizationPending)
	ev := h.waitEvent(t, func(e events.Event) bool { return e.Kind == events.KindAuthorization })
	assert.Equal(t, "/opt/jdk-17", ev.Target)
}
func TestScriptStartsWithoutRuntime(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Runtimes = staticResolver{err: runner.ErrRuntimeNotFound} })
	h.put(t, "a", func(d *definition.Definition) {
		d.Entry = definition.Entry{Kind: definition.EntryScript, ScriptPath: "start.sh"}
	})
	require.NoError(t, h.o.Start(context.Background(), "a"))
	assert.Empty(t, h.l.lastDef().JVMFlags)
}

func TestPreflightDataDirLocked(t *testing.T) {
	h := newHarness(t, nil)
	h.put(t, "a", func(d *definition.Definition) { d.LockFiles = []string{"world/session.lock"} })

	lock := filepath.Join(h.dir, "world", "session.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lock), 0o755))
	f, err := os.Create(lock)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB))

	err = h.o.Start(context.Background(), "a")
	assert.ErrorIs(t, err, ErrDataDirLocked)
	assert.Equal(t, StateStopped, h.state("a"))
	assert.Zero(t, h.l.count(h.l.attempts, "a"))

	require.NoError(t, unix.Flock(int(f.Fd()), unix.LOCK_UN))
	require.NoError(t, h.o.Start(context.Background(), "a"))
	assert.Equal(t, StateRunning, h.state("a"))
	assert.Zero(t, h.caps.Active(h.ws.ID))
}

func TestStartFailures(t *testing.T) {
	t.Run("launch failed", func(t *testing.T) {
		h := newHarness(t, nil)
		h.l.set(func(f *fakeLauncher) { f.startErr = fmt.Errorf("%w: permission denied", runner.ErrLaunchFailed) })
		h.put(t, "a", func(d *definition.Definition) { d.Policy = definition.Policy{RestartOnCrash: true, MaxRestarts: 3} })
		err := h.o.Start(context.Background(), "a")
		assert.ErrorIs(t, err, runner.ErrLaunchFailed)
		assert.Equal(t, StateCrashed, h.state("a"))
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, h.l.count(h.l.attempts, "a"))
		_, ok := h.o.LastError()
		assert.True(t, ok)
	})
	t.Run("invalid entry", func(t *testing.T) {
		h := newHarness(t, nil)
		h.put(t, "a", func(d *definition.Definition) {
			d.Entry = definition.Entry{Kind: definition.EntryClass, MainClass: "java -Xmx1G -jar"}
		})
		assert.ErrorIs(t, h.o.Start(context.Background(), "a"), definition.ErrInvalidEntry)
		assert.Equal(t, StateStopped, h.state("a"))
		assert.Zero(t, h.l.count(h.l.attempts, "a"))
	})
	t.Run("no workspace grant", func(t *testing.T) {
		h := newHarness(t, nil)
		h.put(t, "a", func(d *definition.Definition) { d.Workspace = capability.Token{} })
		assert.ErrorIs(t, h.o.Start(context.Background(), "a"), runner.ErrWorkspaceAccessDenied)
		assert.Equal(t, StateStopped, h.state("a"))
	})
	t.Run("unknown", func(t *testing.T) {
		h := newHarness(t, nil)
		assert.ErrorIs(t, h.o.Start(context.Background(), "nope"), ErrUnknownDefinition)
	})
}

func TestEarlyExitBeforeSpawnResult(t *testing.T) {
	h := newHarness(t, nil)
	h.l.set(func(f *fakeLauncher) { f.exitOnStart = &runner.Exit{Reason: runner.ExitNormal, Status: 1} })
	h.put(t, "a", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))
	h.waitState(t, "a", StateCrashed)
}

func TestRemove(t *testing.T) {
	h := newHarness(t, nil)
	h.l.set(func(f *fakeLauncher) { f.exitOnStop = true })
	h.put(t, "a", nil)
	ctx := context.Background()
	require.NoError(t, h.o.Start(ctx, "a"))

	assert.ErrorIs(t, h.o.Remove(ctx, "a"), ErrServerLive)
	require.NoError(t, h.o.Stop(ctx, "a"))
	h.waitState(t, "a", StateStopped)
	require.NoError(t, h.o.SendInput(ctx, "a", "queued"))

	require.NoError(t, h.o.Remove(ctx, "a"))
	_, ok := h.o.Info("a")
	assert.False(t, ok)
	assert.Empty(t, h.o.Logs("a", 0))
	assert.ErrorIs(t, h.o.Start(ctx, "a"), ErrUnknownDefinition)
	assert.ErrorIs(t, h.o.Remove(ctx, "a"), ErrUnknownDefinition)
}

func TestStopCancelsScheduledRestart(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RestartBackoff = 200 * time.Millisecond })
	h.put(t, "a", func(d *definition.Definition) {
		d.Policy = definition.Policy{RestartOnCrash: true, MaxRestarts: 3}
	})
	require.NoError(t, h.o.Start(context.Background(), "a"))
	require.True(t, h.l.exit("a", runner.ExitNormal, 1))
	h.waitState(t, "a", StateCrashed)
	require.NoError(t, h.o.Stop(context.Background(), "a"))
	time.Sleep(350 * time.Millisecond)
	assert.Equal(t, 1, h.l.count(h.l.starts, "a"))
}

func TestShutdownStopsEverything(t *testing.T) {
	h := newHarness(t, nil)
	h.l.set(func(f *fakeLauncher) { f.exitOnStop = true })
	h.put(t, "a", nil)
	h.put(t, "b", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))
	require.NoError(t, h.o.Start(context.Background(), "b"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.o.Shutdown(ctx))
	assert.Equal(t, StateStopped, h.state("a"))
	assert.Equal(t, StateStopped, h.state("b"))
}

type blockingReader struct {
	release chan struct{}
}

func (r *blockingReader) Read(ctx context.Context, pid int) (sampler.Raw, error) {
	if r.release != nil {
		<-r.release
	}
	return sampler.Raw{CPUSeconds: 1, RSSBytes: 64 << 20, Threads: 12}, nil
}

func TestMetricsSampling(t *testing.T) {
	reader := &blockingReader{}
	h := newHarness(t, func(o *Options) { o.Sampler = sampler.New(reader, 2) })
	h.put(t, "a", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))

	h.o.samplePass(context.Background())
	require.Eventually(t, func() bool {
		info, _ := h.o.Info("a")
		return info.Metrics != nil && info.Metrics.RSSBytes == 64<<20
	}, waitFor, 5*time.Millisecond)

	require.True(t, h.l.exit("a", runner.ExitNormal, 0))
	h.waitState(t, "a", StateStopped)
	info, _ := h.o.Info("a")
	assert.Nil(t, info.Metrics)
	assert.Zero(t, h.o.opts.Sampler.Tracked())
}

func TestMetricsTickSkipsWhileInFlight(t *testing.T) {
	reader := &blockingReader{release: make(chan struct{})}
	h := newHarness(t, func(o *Options) { o.Sampler = sampler.New(reader, 1) })
	h.put(t, "a", nil)
	require.NoError(t, h.o.Start(context.Background(), "a"))

	ctx := context.Background()
	require.True(t, h.o.sampleTick(ctx))
	assert.False(t, h.o.sampleTick(ctx))
	close(reader.release)
	require.Eventually(t, func() bool { return !h.o.sampling.Load() }, waitFor, 5*time.Millisecond)
	assert.True(t, h.o.sampleTick(ctx))
}
