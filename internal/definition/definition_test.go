package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[[servers]]
id = "survival"
name = "Survival"
jvm_flags = ["-Xmx2G"]
args = ["nogui"]
lock_files = ["world/session.lock"]

[servers.entry]
kind = "jar"
jar_path = "server.jar"

[servers.policy]
restart_on_crash = true
max_restarts = 2

[servers.workspace]
id = "grant-1"
path = "/srv/survival"

[[servers]]
id = "proxy"

[servers.entry]
kind = "script"
script_path = "start.sh"

[servers.env]
MEMORY = "1G"
`

func TestParse(t *testing.T) {
	defs, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	s := defs[0]
	assert.Equal(t, "survival", s.ID)
	assert.Equal(t, EntryJar, s.Entry.Kind)
	assert.Equal(t, "server.jar", s.Entry.Target())
	assert.Equal(t, []string{"-Xmx2G"}, s.JVMFlags)
	assert.True(t, s.Policy.RestartOnCrash)
	assert.Equal(t, 2, s.Policy.MaxRestarts)
	assert.Equal(t, "grant-1", s.Workspace.ID)
	assert.Equal(t, []string{"world/session.lock"}, s.LockFiles)

	p := defs[1]
	assert.Equal(t, "proxy", p.DisplayName())
	assert.Equal(t, "1G", p.Env["MEMORY"])
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing id": `
[[servers]]
[servers.entry]
kind = "jar"
jar_path = "a.jar"
`,
		"bad kind": `
[[servers]]
id = "x"
[servers.entry]
kind = "war"
`,
		"negative restarts": `
[[servers]]
id = "x"
[servers.entry]
kind = "jar"
[servers.policy]
max_restarts = -1
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	doc := `
[[servers]]
id = "a"
[servers.entry]
kind = "class"
main_class = "com.example.Main"

[[servers]]
id = "a"
[servers.entry]
kind = "class"
main_class = "com.example.Other"
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "duplicate id")
}

func TestEncodeRoundTrip(t *testing.T) {
	defs, err := Parse([]byte(sample))
	require.NoError(t, err)
	b, err := Encode(defs)
	require.NoError(t, err)
	again, err := Parse(b)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, defs[0].Entry, again[0].Entry)
	assert.Equal(t, defs[0].Policy, again[0].Policy)
	assert.Equal(t, defs[1].Env, again[1].Env)
}

func TestLoadMissingFile(t *testing.T) {
	defs, err := Load(filepath.Join(t.TempDir(), "servers.toml"))
	require.NoError(t, err)
	assert.Empty(t, defs)

	path := filepath.Join(t.TempDir(), "servers.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	defs, err = Load(path)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestEntryValidate(t *testing.T) {
	assert.NoError(t, Entry{Kind: EntryClass, MainClass: "a.B"}.Validate())
	assert.ErrorIs(t, Entry{Kind: EntryJar}.Validate(), ErrInvalidEntry)
	assert.ErrorIs(t, Entry{Kind: EntryJar, MainClass: "a.B"}.Validate(), ErrInvalidEntry)
	assert.ErrorIs(t, Entry{}.Validate(), ErrInvalidEntry)
	assert.ErrorIs(t, Entry{Kind: "war", JarPath: "x"}.Validate(), ErrInvalidEntry)
}

func TestCloneIsDeep(t *testing.T) {
	d := Definition{ID: "a", JVMFlags: []string{"-Xmx1G"}, Env: map[string]string{"A": "1"}}
	c := d.Clone()
	c.JVMFlags[0] = "-Xmx2G"
	c.Env["A"] = "2"
	assert.Equal(t, "-Xmx1G", d.JVMFlags[0])
	assert.Equal(t, "1", d.Env["A"])
}
