package supervisor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/carlosprados/keeper/internal/definition"
)

// DefaultJVMFlags keep the JVM away from native transports and libraries
// that break under a supervised, headless launch.
var DefaultJVMFlags = []string{
	"-Dio.netty.transport.noNative=true",
	"-Djna.nosys=true",
	"-Djava.awt.headless=true",
}

// InjectDefaultFlags prepends each default flag whose option key is not
// already present with any value.
func InjectDefaultFlags(flags []string) []string {
	var missing []string
	for _, d := range DefaultJVMFlags {
		key, _, _ := strings.Cut(d, "=")
		if !slices.ContainsFunc(flags, func(f string) bool { return f == key || strings.HasPrefix(f, key+"=") }) {
			missing = append(missing, d)
		}
	}
	return slices.Concat(missing, flags)
}

var classNameRe = regexp.MustCompile(`^([\p{L}_$][\p{L}\p{N}_$]*/)?[\p{L}_$][\p{L}\p{N}_$]*(\.[\p{L}_$][\p{L}\p{N}_$]*)*$`)

// flags that consume the following token as their value
var valueFlags = map[string]bool{
	"-cp": true, "-classpath": true, "--class-path": true,
	"-p": true, "--module-path": true, "--add-opens": true, "--add-exports": true,
}

type invocation struct {
	flags []string
	jar   string
	class string
	args  []string
}

// Normalize repairs entries that hold a pasted java command line instead of
// a bare class name or jar path. It returns one warning per repaired field.
func Normalize(def definition.Definition) (definition.Definition, []string, error) {
	d := def.Clone()
	d.Entry.JarPath = strings.TrimSpace(d.Entry.JarPath)
	d.Entry.MainClass = strings.TrimSpace(d.Entry.MainClass)
	d.Entry.ScriptPath = strings.TrimSpace(d.Entry.ScriptPath)
	var warnings []string

	if d.Entry.Kind == definition.EntryScript {
		return d, nil, d.Entry.Validate()
	}

	if s := d.Entry.MainClass; s != "" && (strings.ContainsAny(s, " \t") || isJava(s)) && !isBareJarPath(s) {
		inv, err := parseField(s)
		if err != nil {
			return d, warnings, err
		}
		apply(&d, inv)
		warnings = append(warnings, fmt.Sprintf("main class field held a java command; %s", describe(inv)))
	}

	if s := d.Entry.JarPath; s != "" && (strings.ContainsAny(s, " \t") || isJava(s)) {
		tokens, err := splitCommandLine(s)
		if err != nil {
			return d, warnings, err
		}
		switch {
		case len(tokens) == 0:
		case isJava(tokens[0]) || strings.HasPrefix(tokens[0], "-") || slices.Contains(tokens, "-jar"):
			inv, err := parseTokens(tokens)
			if err != nil {
				return d, warnings, err
			}
			apply(&d, inv)
			warnings = append(warnings, fmt.Sprintf("jar path field held a java command; %s", describe(inv)))
		default:
			// "server.jar nogui"; a path with spaces and nothing after the jar stays as is
			if i := slices.IndexFunc(tokens[:len(tokens)-1], hasJarSuffix); i >= 0 {
				d.Entry.JarPath = strings.Join(tokens[:i+1], " ")
				d.Args = slices.Concat(tokens[i+1:], d.Args)
				warnings = append(warnings, fmt.Sprintf("jar path held arguments; moved %d to program arguments", len(tokens)-i-1))
			}
		}
	}

	if len(d.Args) > 0 && isJava(d.Args[0]) {
		inv, err := parseTokens(d.Args)
		if err != nil {
			return d, warnings, err
		}
		d.Args = nil
		apply(&d, inv)
		warnings = append(warnings, fmt.Sprintf("program arguments held a java command; %s", describe(inv)))
	}

	if i := slices.Index(d.JVMFlags, "-jar"); i >= 0 {
		if i+1 >= len(d.JVMFlags) {
			return d, warnings, fmt.Errorf("%w: -jar without a jar path in runtime flags", definition.ErrInvalidEntry)
		}
		jar := d.JVMFlags[i+1]
		rest := d.JVMFlags[i+2:]
		d.JVMFlags = slices.Clone(d.JVMFlags[:i])
		d.Args = slices.Concat(rest, d.Args)
		apply(&d, invocation{jar: jar})
		warnings = append(warnings, fmt.Sprintf("runtime flags held -jar %s; switched to jar mode", jar))
	}

	switch {
	case d.Entry.Kind == definition.EntryClass && hasJarSuffix(d.Entry.MainClass):
		d.Entry.Kind, d.Entry.JarPath, d.Entry.MainClass = definition.EntryJar, d.Entry.MainClass, ""
		warnings = append(warnings, "main class field held a jar path; switched to jar mode")
	case d.Entry.Kind == definition.EntryClass && d.Entry.MainClass == "" && d.Entry.JarPath != "":
		d.Entry.Kind = definition.EntryJar
		warnings = append(warnings, "class entry had only a jar path; switched to jar mode")
	case d.Entry.Kind == definition.EntryJar && d.Entry.JarPath == "" && d.Entry.MainClass != "":
		d.Entry.Kind = definition.EntryClass
		warnings = append(warnings, "jar entry had only a main class; switched to class mode")
	case d.Entry.Kind == "":
		switch {
		case d.Entry.JarPath != "" && d.Entry.MainClass == "":
			d.Entry.Kind = definition.EntryJar
			warnings = append(warnings, "entry kind missing; inferred jar mode")
		case d.Entry.MainClass != "" && d.Entry.JarPath == "":
			d.Entry.Kind = definition.EntryClass
			warnings = append(warnings, "entry kind missing; inferred class mode")
		}
	}

	switch d.Entry.Kind {
	case definition.EntryJar:
		d.Entry.MainClass = ""
	case definition.EntryClass:
		d.Entry.JarPath = ""
		if !classNameRe.MatchString(d.Entry.MainClass) {
			return d, warnings, fmt.Errorf("%w: %q is not a valid main class", definition.ErrInvalidEntry, d.Entry.MainClass)
		}
	}
	d.Entry.ScriptPath = ""
	return d, warnings, d.Entry.Validate()
}

func apply(d *definition.Definition, inv invocation) {
	for _, f := range inv.flags {
		if !slices.Contains(d.JVMFlags, f) {
			d.JVMFlags = append(d.JVMFlags, f)
		}
	}
	switch {
	case inv.jar != "":
		d.Entry.Kind, d.Entry.JarPath, d.Entry.MainClass = definition.EntryJar, inv.jar, ""
	case inv.class != "":
		d.Entry.Kind, d.Entry.MainClass, d.Entry.JarPath = definition.EntryClass, inv.class, ""
	}
	d.Args = slices.Concat(inv.args, d.Args)
}

func describe(inv invocation) string {
	target := "main class " + inv.class
	if inv.jar != "" {
		target = "jar " + inv.jar
	}
	return fmt.Sprintf("using %s with %d runtime flags and %d program arguments", target, len(inv.flags), len(inv.args))
}

func parseField(s string) (invocation, error) {
	tokens, err := splitCommandLine(s)
	if err != nil {
		return invocation{}, err
	}
	return parseTokens(tokens)
}

func parseTokens(tokens []string) (invocation, error) {
	if len(tokens) > 0 && isJava(tokens[0]) {
		tokens = tokens[1:]
	}
	var inv invocation
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch {
		case t == "-jar":
			if i+1 >= len(tokens) {
				return inv, fmt.Errorf("%w: -jar without a jar path", definition.ErrInvalidEntry)
			}
			inv.jar = tokens[i+1]
			inv.args = slices.Clone(tokens[i+2:])
			return inv, nil
		case valueFlags[t]:
			if i+1 >= len(tokens) {
				return inv, fmt.Errorf("%w: %s without a value", definition.ErrInvalidEntry, t)
			}
			inv.flags = append(inv.flags, t, tokens[i+1])
			i++
		case strings.HasPrefix(t, "-"):
			inv.flags = append(inv.flags, t)
		default:
			inv.class = t
			inv.args = slices.Clone(tokens[i+1:])
			return inv, nil
		}
	}
	return inv, fmt.Errorf("%w: java command has no jar or main class", definition.ErrInvalidEntry)
}

func hasJarSuffix(token string) bool { return strings.HasSuffix(strings.ToLower(token), ".jar") }

// isBareJarPath reports whether s names a jar file, spaces included, rather
// than a command that runs one.
func isBareJarPath(s string) bool {
	return hasJarSuffix(s) && !isJava(s) && !strings.HasPrefix(s, "-") && !strings.Contains(s, " -jar ")
}

func isJava(token string) bool {
	first, _, _ := strings.Cut(strings.TrimSpace(token), " ")
	switch strings.ToLower(filepath.Base(first)) {
	case "java", "javaw", "java.exe", "javaw.exe":
		return true
	}
	return false
}

// splitCommandLine splits s like a POSIX shell would for plain words,
// single and double quotes, and backslash escapes.
func splitCommandLine(s string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped, inWord = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				out = append(out, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, fmt.Errorf("%w: unterminated quote in %q", definition.ErrInvalidEntry, s)
	}
	if inWord {
		out = append(out, cur.String())
	}
	return out, nil
}
