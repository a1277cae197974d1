// Package sass compiles Sass sources by running the sass executable.
package sass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single compilation.
const DefaultTimeout = 30 * time.Second

// ErrNotInstalled is returned when no sass executable can be found.
var ErrNotInstalled = errors.New("sass is required to compile .scss files; install it with `npm install sass` or from https://sass-lang.com/install")

// NeedsCompile reports whether path is a Sass source.
func NeedsCompile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".scss", ".sass":
		return true
	}
	return false
}

// Error is a compilation failure with the compiler's diagnostic.
type Error struct {
	Path    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sass %s: %s", e.Path, e.Message)
}

// Runner runs an external command. It exists so tests can replace the
// compiler process.
type Runner interface {
	Run(ctx context.Context, name string, args []string, dir string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, dir string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binary is located by Locate or set in config
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Compiler compiles one Sass file at a time to CSS.
type Compiler struct {
	root      string
	binary    string
	loadPaths []string
	timeout   time.Duration
	runner    Runner

	locateOnce sync.Once
	locateErr  error
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(c *Compiler) { c.runner = r }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Compiler) { c.timeout = d }
}

// NewCompiler creates a compiler for the project at root. binary may be
// empty, in which case the executable is located on first use, so builds
// without Sass sources never need it installed.
func NewCompiler(root, binary string, loadPaths []string, opts ...Option) *Compiler {
	c := &Compiler{
		root:      root,
		binary:    binary,
		loadPaths: loadPaths,
		timeout:   DefaultTimeout,
		runner:    execRunner{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Locate finds the sass executable: configured path, then PATH, then the
// project's node_modules/.bin, then common install locations.
func Locate(configured, root string) (string, error) {
	if configured != "" {
		if path, err := exec.LookPath(configured); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("configured sass binary %q not found: %w", configured, ErrNotInstalled)
	}

	if path, err := exec.LookPath("sass"); err == nil {
		return path, nil
	}

	candidates := []string{
		filepath.Join(root, "node_modules", ".bin", "sass"),
		"/usr/local/bin/sass",
		"/usr/bin/sass",
		"/opt/homebrew/bin/sass",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".npm-global", "bin", "sass"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNotInstalled
}

func (c *Compiler) locate() error {
	c.locateOnce.Do(func() {
		// A replaced runner does not run real processes.
		if _, ok := c.runner.(execRunner); !ok {
			if c.binary == "" {
				c.binary = "sass"
			}
			return
		}
		path, err := Locate(c.binary, c.root)
		if err != nil {
			c.locateErr = err
			return
		}
		log.Debug().Str("binary", path).Msg("Using sass compiler")
		c.binary = path
	})
	return c.locateErr
}

// Compile compiles the Sass file at path and returns the expanded CSS.
func (c *Compiler) Compile(ctx context.Context, path string) ([]byte, error) {
	if err := c.locate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{"--no-source-map", "--style=expanded"}
	for _, p := range c.loadPaths {
		args = append(args, "--load-path="+p)
	}
	args = append(args, path)

	stdout, stderr, err := c.runner.Run(ctx, c.binary, args, c.root)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &Error{Path: path, Message: fmt.Sprintf("compilation timed out after %s", c.timeout)}
	}
	if err != nil {
		msg := string(stderr)
		if strings.TrimSpace(msg) == "" {
			msg = string(stdout)
		}
		if strings.TrimSpace(msg) == "" {
			msg = err.Error()
		}
		return nil, &Error{Path: path, Message: cleanError(msg, c.root)}
	}
	return stdout, nil
}

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	locationPattern = regexp.MustCompile(`\S+\.s[ac]ss \d+:\d+`)
)

// cleanError keeps the lines of a sass diagnostic that matter: the error
// line and the source location, with ANSI colours and the project root
// stripped.
func cleanError(msg, root string) string {
	msg = ansiPattern.ReplaceAllString(msg, "")
	if root != "" {
		msg = strings.ReplaceAll(msg, root+string(filepath.Separator), "")
	}

	var relevant []string
	for _, line := range strings.Split(msg, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Error:") ||
			strings.Contains(line, "Can't find stylesheet") ||
			strings.Contains(line, "Undefined") ||
			strings.Contains(line, "expected") ||
			locationPattern.MatchString(line) {
			relevant = append(relevant, line)
		}
	}

	if len(relevant) > 0 {
		return strings.Join(relevant, "\n")
	}
	return strings.TrimSpace(msg)
}
