package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/carlosprados/keeper/internal/capability"
	"github.com/carlosprados/keeper/internal/definition"
)

// Runtime is the JVM selected for a start. Token, when set, gates access to
// Home.
type Runtime struct {
	Home  string
	Exe   string
	Token *capability.Token
}

// Command is a fully resolved process invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

var interpreters = map[string]string{
	".sh":   "/bin/sh",
	".bash": "/bin/bash",
	".zsh":  "/bin/zsh",
}

// BuildCommand resolves the entry of def against the workspace root. Relative
// entry paths must stay inside the workspace.
func BuildCommand(def definition.Definition, workspace string, rt Runtime) (Command, error) {
	if err := def.Entry.Validate(); err != nil {
		return Command{}, err
	}
	cmd := Command{Dir: workspace, Env: environ(def, rt)}
	switch def.Entry.Kind {
	case definition.EntryJar:
		if rt.Exe == "" {
			return Command{}, ErrRuntimeNotFound
		}
		jar, err := capability.ResolveWithin(workspace, def.Entry.JarPath)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
		}
		cmd.Path = rt.Exe
		cmd.Args = slices.Concat(def.JVMFlags, []string{"-jar", jar}, def.Args)
	case definition.EntryClass:
		if rt.Exe == "" {
			return Command{}, ErrRuntimeNotFound
		}
		cmd.Path = rt.Exe
		cmd.Args = slices.Concat(def.JVMFlags, []string{strings.TrimSpace(def.Entry.MainClass)}, def.Args)
	case definition.EntryScript:
		script, err := capability.ResolveWithin(workspace, def.Entry.ScriptPath)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
		}
		if sh, ok := interpreters[strings.ToLower(filepath.Ext(script))]; ok {
			cmd.Path = sh
			cmd.Args = slices.Concat([]string{script}, def.Args)
		} else {
			cmd.Path = script
			cmd.Args = slices.Clone(def.Args)
		}
	}
	return cmd, nil
}

func environ(def definition.Definition, rt Runtime) []string {
	env := os.Environ()
	if def.Entry.Kind == definition.EntryScript && rt.Home != "" {
		env = append(env,
			"JAVA_HOME="+rt.Home,
			"PATH="+filepath.Join(rt.Home, "bin")+string(os.PathListSeparator)+os.Getenv("PATH"),
		)
	}
	keys := make([]string, 0, len(def.Env))
	for k := range def.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+def.Env[k])
	}
	return env
}
