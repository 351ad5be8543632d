// Package locator discovers Java runtime installations on the host.
//
// Discovery is an ordered list of independent probes. Each probe returns its
// own ranked candidates and the first probe with a usable candidate wins;
// results from different probes are never merged.
package locator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Candidate is a discovered runtime.
type Candidate struct {
	Home    string          `json:"home"`
	Exe     string          `json:"exe"`
	Source  string          `json:"source"`
	Version *semver.Version `json:"version,omitempty"`
}

// Options configure a Locator. Zero values select host defaults.
type Options struct {
	Getenv     func(string) string
	HomeDir    string
	GOOS       string
	Executable string // path of the running binary, used for bundled runtimes

	// SystemDirs are scanned for installed runtimes (one home per entry).
	SystemDirs []string
	// PackagePrefixes are package-manager runtime homes or parents of homes.
	PackagePrefixes []string
	// Stubs are launcher paths that do nothing useful unless a real runtime is
	// installed (the macOS /usr/bin/java shim).
	Stubs []string

	// ShellEnv returns JAVA_HOME as reported by the user's login shell.
	ShellEnv func(ctx context.Context) (string, error)
	// Registry returns the home of the system default runtime.
	Registry func(ctx context.Context) (string, error)

	// Constraint filters candidates with a known version, e.g. ">= 17".
	Constraint string

	FastTimeout time.Duration
	FullTimeout time.Duration
}

type probe struct {
	name   string
	fast   bool
	spawns bool // runs external commands
	find   func(ctx context.Context) []Candidate
}

// Locator runs the probe list.
type Locator struct {
	opts       Options
	constraint *semver.Constraints
	probes     []probe
	sf         singleflight.Group
}

func New(opts Options) *Locator {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.HomeDir == "" {
		opts.HomeDir, _ = os.UserHomeDir()
	}
	if opts.Executable == "" {
		opts.Executable, _ = os.Executable()
	}
	if opts.SystemDirs == nil {
		opts.SystemDirs = defaultSystemDirs(opts.GOOS)
	}
	if opts.PackagePrefixes == nil {
		opts.PackagePrefixes = defaultPackagePrefixes(opts.GOOS)
	}
	if opts.Stubs == nil && opts.GOOS == "darwin" {
		opts.Stubs = []string{"/usr/bin/java"}
	}
	if opts.ShellEnv == nil {
		opts.ShellEnv = shellJavaHome(opts.Getenv)
	}
	if opts.Registry == nil {
		opts.Registry = systemRegistry(opts.GOOS)
	}
	if opts.FastTimeout <= 0 {
		opts.FastTimeout = 300 * time.Millisecond
	}
	if opts.FullTimeout <= 0 {
		opts.FullTimeout = 15 * time.Second
	}
	l := &Locator{opts: opts}
	if opts.Constraint != "" {
		c, err := semver.NewConstraint(opts.Constraint)
		if err != nil {
			log.Warn().Str("constraint", opts.Constraint).Err(err).Msg("ignoring runtime version constraint")
		} else {
			l.constraint = c
		}
	}
	l.probes = []probe{
		{name: "env", fast: true, find: l.probeEnv},
		{name: "launch", fast: true, find: l.probeLaunch},
		{name: "shell", spawns: true, find: l.probeShell},
		{name: "registry", spawns: true, find: l.probeRegistry},
		{name: "version-manager", find: l.probeVersionManagers},
		{name: "package-manager", find: l.probePackages},
		{name: "path", find: l.probePath},
	}
	return l
}

// FindFast runs only environment and launch-context probes.
func (l *Locator) FindFast(ctx context.Context) (Candidate, bool) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.FastTimeout)
	defer cancel()
	return l.first(ctx, func(p probe) bool { return p.fast })
}

// FindFull runs every probe. Concurrent callers share one scan.
func (l *Locator) FindFull(ctx context.Context) (Candidate, bool) {
	v, _, _ := l.sf.Do("full", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, l.opts.FullTimeout)
		defer cancel()
		c, ok := l.first(ctx, func(probe) bool { return true })
		if !ok {
			return nil, nil
		}
		return c, nil
	})
	c, ok := v.(Candidate)
	return c, ok
}

// LikelyHomesForPrompt lists directories worth offering in a manual runtime
// picker: discovered homes first, then existing well-known roots.
func (l *Locator) LikelyHomesForPrompt() []string {
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.FullTimeout)
	defer cancel()
	var out []string
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, p := range l.probes {
		if p.spawns {
			continue
		}
		for _, c := range p.find(ctx) {
			add(c.Home)
		}
	}
	for _, root := range l.roots() {
		if isDir(root) {
			add(root)
		}
	}
	return out
}

func (l *Locator) first(ctx context.Context, want func(probe) bool) (Candidate, bool) {
	for _, p := range l.probes {
		if !want(p) {
			continue
		}
		if ctx.Err() != nil {
			log.Debug().Str("probe", p.name).Msg("runtime discovery deadline reached")
			return Candidate{}, false
		}
		for _, c := range p.find(ctx) {
			if !l.accept(c) {
				continue
			}
			c.Source = p.name
			log.Debug().Str("probe", p.name).Str("exe", c.Exe).Msg("runtime found")
			return c, true
		}
	}
	return Candidate{}, false
}

func (l *Locator) accept(c Candidate) bool {
	if !isExecutable(c.Exe) {
		return false
	}
	if l.constraint != nil && c.Version != nil && !l.constraint.Check(c.Version) {
		return false
	}
	return true
}

func (l *Locator) probeEnv(context.Context) []Candidate {
	var out []Candidate
	for _, key := range []string{"JAVA_HOME", "JDK_HOME", "JRE_HOME"} {
		if home := strings.TrimSpace(l.opts.Getenv(key)); home != "" {
			out = append(out, fromHome(home))
		}
	}
	return out
}

func (l *Locator) probeLaunch(context.Context) []Candidate {
	if l.opts.Executable == "" {
		return nil
	}
	dir := filepath.Dir(l.opts.Executable)
	var out []Candidate
	for _, rel := range []string{"runtime", "jre", "../runtime", "../Resources/runtime"} {
		home := filepath.Join(dir, rel)
		if isDir(home) {
			out = append(out, fromHome(home))
		}
	}
	return out
}

func (l *Locator) probeShell(ctx context.Context) []Candidate {
	home, err := l.opts.ShellEnv(ctx)
	if err != nil || strings.TrimSpace(home) == "" {
		return nil
	}
	return []Candidate{fromHome(strings.TrimSpace(home))}
}

func (l *Locator) probeRegistry(ctx context.Context) []Candidate {
	home, err := l.opts.Registry(ctx)
	if err != nil || strings.TrimSpace(home) == "" {
		return nil
	}
	return []Candidate{fromHome(strings.TrimSpace(home))}
}

func (l *Locator) probeVersionManagers(context.Context) []Candidate {
	h := l.opts.HomeDir
	if h == "" {
		return nil
	}
	var out []Candidate
	sdkman := l.opts.Getenv("SDKMAN_DIR")
	if sdkman == "" {
		sdkman = filepath.Join(h, ".sdkman")
	}
	javaDir := filepath.Join(sdkman, "candidates", "java")
	if current := filepath.Join(javaDir, "current"); isDir(current) {
		out = append(out, fromHome(current))
	}
	out = append(out, scanHomes(javaDir, "")...)
	out = append(out, scanHomes(filepath.Join(h, ".jenv", "versions"), "")...)
	out = append(out, scanHomes(filepath.Join(h, ".asdf", "installs", "java"), "")...)
	out = append(out, scanHomes(filepath.Join(h, ".jabba", "jdk"), "")...)
	out = append(out, scanHomes(filepath.Join(h, ".local", "share", "mise", "installs", "java"), "")...)
	return out
}

func (l *Locator) probePackages(context.Context) []Candidate {
	var out []Candidate
	for _, prefix := range l.opts.PackagePrefixes {
		if hasRuntime(prefix) {
			out = append(out, fromHome(prefix))
			continue
		}
		out = append(out, scanHomes(prefix, "")...)
	}
	for _, dir := range l.opts.SystemDirs {
		suffix := ""
		if strings.HasSuffix(dir, "JavaVirtualMachines") {
			suffix = filepath.Join("Contents", "Home")
		}
		out = append(out, scanHomes(dir, suffix)...)
	}
	return out
}

func (l *Locator) probePath(ctx context.Context) []Candidate {
	var out []Candidate
	for _, dir := range filepath.SplitList(l.opts.Getenv("PATH")) {
		if dir == "" {
			continue
		}
		exe := filepath.Join(dir, "java")
		if !isExecutable(exe) {
			continue
		}
		if l.isStub(exe) {
			if _, ok := l.first(ctx, func(p probe) bool { return p.name == "registry" }); !ok {
				log.Debug().Str("exe", exe).Msg("skipping runtime stub without installed runtime")
				continue
			}
		}
		resolved, err := filepath.EvalSymlinks(exe)
		if err != nil {
			continue
		}
		c := fromHome(HomeOf(resolved))
		c.Exe = exe
		out = append(out, c)
	}
	return out
}

func (l *Locator) isStub(exe string) bool {
	for _, s := range l.opts.Stubs {
		if filepath.Clean(exe) == filepath.Clean(s) {
			return true
		}
	}
	return false
}

func (l *Locator) roots() []string {
	var out []string
	out = append(out, l.opts.SystemDirs...)
	out = append(out, l.opts.PackagePrefixes...)
	if l.opts.HomeDir != "" {
		out = append(out,
			filepath.Join(l.opts.HomeDir, ".sdkman", "candidates", "java"),
			filepath.Join(l.opts.HomeDir, ".jenv", "versions"),
			filepath.Join(l.opts.HomeDir, ".asdf", "installs", "java"),
		)
	}
	return out
}

// HomeOf returns the runtime home for an executable at <home>/bin/java.
func HomeOf(exe string) string {
	return filepath.Dir(filepath.Dir(exe))
}

// ExecutableIn returns the java launcher inside home.
func ExecutableIn(home string) string {
	return filepath.Join(home, "bin", "java")
}

func fromHome(home string) Candidate {
	home = filepath.Clean(home)
	return Candidate{Home: home, Exe: ExecutableIn(home), Version: versionFrom(filepath.Base(home))}
}

// scanHomes lists <dir>/<entry>/<suffix> homes, newest version first. Missing
// directories, unreadable entries and symlink loops are skipped.
func scanHomes(dir, suffix string) []Candidate {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Candidate
	for _, e := range entries {
		home := filepath.Join(dir, e.Name(), suffix)
		resolved, err := filepath.EvalSymlinks(home)
		if err != nil {
			continue
		}
		if !hasRuntime(resolved) {
			continue
		}
		c := fromHome(resolved)
		c.Version = versionFrom(e.Name())
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Version, out[j].Version
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.GreaterThan(b)
		}
	})
	return out
}

var versionPattern = regexp.MustCompile(`(\d+)(?:[._](\d+))?(?:[._](\d+))?`)

// versionFrom extracts a version from an install directory name such as
// "jdk-21.0.2", "java-17-openjdk-amd64", "temurin-21" or "jdk1.8.0_292".
func versionFrom(name string) *semver.Version {
	m := versionPattern.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	var parts [3]uint64
	for i := range parts {
		if m[i+1] != "" {
			parts[i], _ = strconv.ParseUint(m[i+1], 10, 64)
		}
	}
	// Legacy 1.x naming: 1.8.0 is Java 8.
	if parts[0] == 1 && m[2] != "" {
		parts = [3]uint64{parts[1], parts[2], 0}
	}
	return semver.New(parts[0], parts[1], parts[2], "", "")
}

func hasRuntime(home string) bool {
	return isExecutable(ExecutableIn(home))
}

func isExecutable(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st.Mode().IsRegular() && st.Mode().Perm()&0o111 != 0
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func defaultSystemDirs(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"/Library/Java/JavaVirtualMachines", "/System/Library/Java/JavaVirtualMachines"}
	default:
		return []string{"/usr/lib/jvm", "/usr/java", "/opt/java", "/usr/local/java"}
	}
}

func defaultPackagePrefixes(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/opt/homebrew/opt/openjdk/libexec/openjdk.jdk/Contents/Home",
			"/usr/local/opt/openjdk/libexec/openjdk.jdk/Contents/Home",
			"/opt/local/Library/Java/JavaVirtualMachines",
		}
	default:
		return []string{
			"/home/linuxbrew/.linuxbrew/opt/openjdk/libexec",
			"/snap/openjdk/current/jdk",
			"/nix/var/nix/profiles/default",
		}
	}
}

func shellJavaHome(getenv func(string) string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		shell := getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, shell, "-l", "-c", `printf %s "$JAVA_HOME"`).Output()
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

func systemRegistry(goos string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if goos == "darwin" {
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			out, err := exec.CommandContext(ctx, "/usr/libexec/java_home").Output()
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(string(out)), nil
		}
		for _, link := range []string{"/etc/alternatives/java", "/usr/lib/jvm/default-java/bin/java"} {
			if exe, err := filepath.EvalSymlinks(link); err == nil {
				return HomeOf(exe), nil
			}
		}
		return "", os.ErrNotExist
	}
}
