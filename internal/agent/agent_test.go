package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/carlosprados/keeper/internal/config"
	"github.com/carlosprados/keeper/internal/locator"
	"github.com/carlosprados/keeper/internal/state"
	"github.com/carlosprados/keeper/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const servers = `
[[servers]]
id = "echo"
name = "Echo"

[servers.entry]
kind = "script"
script_path = "run.sh"
`

const script = `#!/bin/sh
echo ready
while read line; do
  echo "got $line"
done
`

type fixture struct {
	agent *Agent
	srv   *httptest.Server
	data  string
	ws    string
	home  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	data := filepath.Join(root, "data")
	ws := filepath.Join(root, "ws")
	home := filepath.Join(root, "jdk-21")
	require.NoError(t, os.MkdirAll(data, 0o755))
	require.NoError(t, os.MkdirAll(ws, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(home, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "bin", "java"), []byte("#!/bin/sh\nexit 0\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "run.sh"), []byte(script), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "servers.toml"), []byte(servers), 0o644))

	env := map[string]string{"JAVA_HOME": home}
	loc := locator.New(locator.Options{
		Getenv:          func(k string) string { return env[k] },
		HomeDir:         root,
		Executable:      filepath.Join(root, "bin", "keeper"),
		SystemDirs:      []string{},
		PackagePrefixes: []string{},
		ShellEnv:        func(context.Context) (string, error) { return "", nil },
		Registry:        func(context.Context) (string, error) { return "", nil },
	})

	a, err := New(Options{Config: config.Config{DataDir: data, TopicPrefix: "keeper"}, Locator: loc})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	srv := httptest.NewServer(a.Router())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return &fixture{agent: a, srv: srv, data: data, ws: ws, home: home}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", r)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func (f *fixture) serverState(t *testing.T) string {
	var list []store.ServerInfo
	require.Equal(t, http.StatusOK, f.get(t, "/v1/servers", &list))
	for _, s := range list {
		if s.ID == "echo" {
			return s.State
		}
	}
	return ""
}

func TestServerLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "stopped", f.serverState(t))

	// No workspace grant yet.
	resp := f.post(t, "/v1/servers/echo:start", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	var last map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/v1/errors/last", &last))
	assert.Equal(t, "echo", last["server"])

	resp = f.post(t, "/v1/servers/echo:grant", map[string]string{"dir": f.ws})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defs, err := store.NewFileStore(f.data).LoadDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.False(t, defs[0].Workspace.IsZero())

	resp = f.post(t, "/v1/servers/echo:start", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "running", f.serverState(t))

	resp = f.post(t, "/v1/servers/echo/input", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Eventually(t, func() bool {
		var logs struct {
			Lines []string `json:"lines"`
		}
		f.get(t, "/v1/servers/echo/logs?tail=10", &logs)
		return strings.Contains(strings.Join(logs.Lines, "\n"), "got hello")
	}, 5*time.Second, 20*time.Millisecond)

	resp = f.post(t, "/v1/servers/echo:stop", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Eventually(t, func() bool { return f.serverState(t) == "stopped" }, 5*time.Second, 20*time.Millisecond)

	settings, err := store.NewFileStore(f.data).LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, settings.LastStarted)
}

func TestUnknownServerRoutes(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/servers/nope", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/servers/nope/logs", nil))
	assert.Equal(t, http.StatusNotFound, f.post(t, "/v1/servers/nope:start", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.post(t, "/v1/servers/echo:explode", nil).StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, f.get(t, "/v1/servers/echo:start", nil))
	assert.Equal(t, http.StatusNoContent, f.get(t, "/v1/errors/last", nil))
}

func TestRuntimeAuthorizeAndCandidates(t *testing.T) {
	f := newFixture(t)

	var cands struct {
		Found  *locator.Candidate `json:"found"`
		Likely []string           `json:"likely"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/v1/runtime/candidates", &cands))
	require.NotNil(t, cands.Found)
	assert.Equal(t, f.home, cands.Found.Home)
	assert.Contains(t, cands.Likely, f.home)

	resp := f.post(t, "/v1/runtime/authorize", map[string]string{"home": f.home})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, filepath.Join(f.home, "bin", "java"), body["exe"])

	settings, err := store.NewFileStore(f.data).LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, f.home, settings.RuntimePath)
	require.NotNil(t, settings.RuntimeGrant)
	assert.Equal(t, body["grant"], settings.RuntimeGrant.ID)

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/v1/runtime/authorize", map[string]string{}).StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	var health map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/healthz", &health))
	assert.Equal(t, "ok", health["status"])

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "keeper_server_state")
}

func TestCloseWritesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.agent.Close(ctx))

	snap, err := state.Load(filepath.Join(f.data, "state"))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), snap.DaemonPID)
	require.Len(t, snap.Servers, 1)
	assert.Equal(t, "echo", snap.Servers[0].ID)
}
