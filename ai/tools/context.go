// Package tools implements the sandboxed tool runtime: a registry of
// local-workstation tools with confirmation and network gating, allowed-root
// path enforcement, output caps, and subprocess timeouts.
package tools

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Default caps applied when the environment does not override them.
const (
	DefaultMaxOutputBytes = 200_000
	DefaultCommandTimeout = 10 * time.Second
)

// Context is the runtime sandbox every tool handler executes under.
type Context struct {
	RepoRoot     string
	DBPath       string
	AllowedRoots []string
	AllowNetwork bool

	// CommandAllowlist holds lowercased executable basenames.
	CommandAllowlist map[string]struct{}

	MaxOutputBytes int
	CommandTimeout time.Duration
}

// ContextFromEnv builds the tool sandbox from MYGPT_* variables. Roots come
// from MYGPT_TOOL_ROOTS (path-separator list, default the working
// directory); the first root doubles as the repo root for git tools and as
// the base for resolving relative paths.
func ContextFromEnv(dbPath string) (*Context, error) {
	var roots []string
	if raw := os.Getenv("MYGPT_TOOL_ROOTS"); raw != "" {
		for _, entry := range filepath.SplitList(raw) {
			if entry = strings.TrimSpace(entry); entry != "" {
				roots = append(roots, entry)
			}
		}
	}
	if len(roots) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "failed to determine working directory")
		}
		roots = []string{cwd}
	}
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve tool root %s", root)
		}
		resolved = append(resolved, filepath.Clean(abs))
	}

	// The allowlist is empty unless explicitly configured; run_command is
	// deny-by-default.
	allowed := make(map[string]struct{})
	for _, name := range strings.Split(os.Getenv("MYGPT_TOOL_COMMAND_ALLOWLIST"), ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			allowed[name] = struct{}{}
		}
	}

	ctx := &Context{
		RepoRoot:         resolved[0],
		DBPath:           dbPath,
		AllowedRoots:     resolved,
		AllowNetwork:     envBool("MYGPT_ALLOW_NETWORK_TOOLS"),
		CommandAllowlist: allowed,
		MaxOutputBytes:   envInt("MYGPT_TOOL_MAX_OUTPUT_BYTES", DefaultMaxOutputBytes),
		CommandTimeout:   time.Duration(envInt("MYGPT_TOOL_COMMAND_TIMEOUT", 10)) * time.Second,
	}
	return ctx, nil
}

// ResolvePath canonicalises a tool path argument and verifies it lies within
// an allowed root. Relative paths resolve against the first root. Symlinks
// are resolved before the containment check, so a link inside a root cannot
// escape it.
func (c *Context) ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.AllowedRoots[0], path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve path %s", path)
	}
	abs = resolveSymlinks(filepath.Clean(abs))
	for _, root := range c.AllowedRoots {
		rel, err := filepath.Rel(resolveSymlinks(root), abs)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
			return abs, nil
		}
	}
	return "", errors.New("Path is outside allowed roots.")
}

// resolveSymlinks evaluates symlinks on the deepest existing ancestor of
// path and reattaches the not-yet-existing remainder.
func resolveSymlinks(path string) string {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// CommandAllowed reports whether an executable may be run by run_command.
// The check is on the lowercased basename.
func (c *Context) CommandAllowed(executable string) bool {
	base := strings.ToLower(filepath.Base(executable))
	_, ok := c.CommandAllowlist[base]
	return ok
}

func envBool(key string) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	return raw == "1" || strings.EqualFold(raw, "true")
}

func envInt(key string, defaultValue int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
